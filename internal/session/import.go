package session

import (
	"errors"
	"fmt"

	"annotize/internal/annotation"
	"annotize/internal/exchange"
	"annotize/internal/identifier"
	"annotize/internal/logging"
	"annotize/internal/reference"
	"annotize/internal/target"
)

var (
	ErrMissingTarget = errors.New("fragment target not found")
	ErrDuplicate     = errors.New("duplicate id")
)

// ImportReport summarizes an import. Entries listed in Failures were
// skipped; everything else was imported.
type ImportReport struct {
	Identifiers int
	Annotations int
	References  int
	// Other counts elements of types no component here interprets. They are
	// kept and exported unchanged.
	Other    int
	Failures []*exchange.Failure
}

// Err joins the failures, or returns nil when there were none.
func (r *ImportReport) Err() error {
	errs := make([]error, 0, len(r.Failures))
	for _, f := range r.Failures {
		errs = append(errs, f)
	}
	return errors.Join(errs...)
}

// Import adds the contents of an exchange document. Identifiers are
// imported first, then annotations with their targets, then references.
// A failing entry is recorded in the report and the import continues; only
// a document that is not an array fails as a whole.
func (s *Session) Import(data []byte) (*ImportReport, error) {
	doc, err := exchange.Decode(data)
	if err != nil {
		return nil, err
	}
	report := &ImportReport{Failures: doc.Failures, Other: len(doc.Other)}
	for _, e := range doc.Other {
		s.keepOther(e)
	}
	fail := func(e exchange.Element, err error) {
		logging.Warn("import entry skipped", "index", e.Index, "type", e.Type, "id", e.ID, "error", err)
		report.Failures = append(report.Failures, e.Fail(err))
	}

	for _, e := range doc.Identifiers {
		i, err := identifier.Parse(e.Raw)
		if err != nil {
			fail(e, err)
			continue
		}
		if !s.Identifiers.Add(i) {
			fail(e, fmt.Errorf("%w: identifier %s", ErrDuplicate, i.ID()))
			continue
		}
		report.Identifiers++
	}

	for _, e := range doc.Annotations {
		if err := s.importAnnotation(doc, e); err != nil {
			fail(e, err)
			continue
		}
		report.Annotations++
	}

	for _, e := range doc.References {
		r, err := reference.Parse(e.Raw, s.Annotations)
		if err != nil {
			fail(e, err)
			continue
		}
		if !s.References.Add(r) {
			r.Remove()
			fail(e, fmt.Errorf("%w: reference %s", ErrDuplicate, r.ID()))
			continue
		}
		report.References++
	}

	logging.Info("import finished",
		"source", s.source,
		"annotations", report.Annotations,
		"identifiers", report.Identifiers,
		"references", report.References,
		"failures", len(report.Failures))
	return report, nil
}

func (s *Session) importAnnotation(doc *exchange.Document, e exchange.Element) error {
	a, err := annotation.Parse(e.Raw)
	if err != nil {
		return err
	}
	if s.Annotations.Has(a.ID) {
		return fmt.Errorf("%w: annotation %s", ErrDuplicate, a.ID)
	}
	if _, taken := s.targets[a.TargetID]; taken {
		return fmt.Errorf("%w: target %s already in use", ErrDuplicate, a.TargetID)
	}

	te, ok := doc.Target(a.TargetID)
	if !ok {
		return fmt.Errorf("%w: %s", ErrMissingTarget, a.TargetID)
	}
	tg, err := target.Parse(te.Raw, s.replayOrder())
	if err != nil {
		return err
	}
	if !tg.HasPathSelector() {
		return fmt.Errorf("%w: %s has no path selector", target.ErrInvalid, tg.ID())
	}
	if tg.Source() != s.source {
		logging.Warn("target source differs from session", "target", tg.ID(), "source", tg.Source(), "session", s.source)
	}
	if !tg.HasOffsetSelector() {
		s.deriveOffsets(tg)
	}

	if err := s.bindBody(a); err != nil {
		return err
	}
	if err := s.Annotations.Add(a); err != nil {
		return err
	}
	s.targets[tg.ID()] = tg
	return nil
}

// keepOther stores an element no component here interprets, such as a tag
// set, so that it is exported again. A later element with the same type and
// id replaces the earlier one.
func (s *Session) keepOther(e exchange.Element) {
	for i, cur := range s.other {
		if cur.Type == e.Type && cur.ID == e.ID {
			s.other[i] = e
			return
		}
	}
	s.other = append(s.other, e)
}

// Export writes the session as an exchange document: annotations, their
// fragment targets, the identifiers in use, references, then the elements
// of other types kept from imports.
func (s *Session) Export() ([]byte, error) {
	return exchange.Marshal(s.Elements())
}

// Elements returns the exported elements in document order.
func (s *Session) Elements() []any {
	annotations := s.Annotations.All()
	elements := make([]any, 0, 2*len(annotations))
	for _, a := range annotations {
		elements = append(elements, a)
	}
	for _, a := range annotations {
		if tg, ok := s.targets[a.TargetID]; ok {
			elements = append(elements, tg)
		}
	}
	for _, i := range s.Identifiers.InUse() {
		elements = append(elements, i)
	}
	for _, r := range s.References.All() {
		elements = append(elements, r)
	}
	for _, e := range s.other {
		elements = append(elements, e.Raw)
	}
	return elements
}
