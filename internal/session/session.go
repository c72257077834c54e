// Package session holds the annotations of one source document together
// with their targets, identifiers and references, and implements authoring,
// import and export on top of them.
package session

import (
	"encoding/json"
	"errors"
	"fmt"

	"annotize/internal/annotation"
	"annotize/internal/docview"
	"annotize/internal/exchange"
	"annotize/internal/identifier"
	"annotize/internal/logging"
	"annotize/internal/reference"
	"annotize/internal/selector"
	"annotize/internal/target"

	"github.com/google/uuid"
)

var (
	ErrNoRange    = errors.New("annotation needs at least one range")
	ErrNoDocument = errors.New("no document loaded")
)

// Options tune authoring and import behaviour.
type Options struct {
	// ImplicitIdentifiers creates unknown identifiers named by declaration
	// and occurrence bodies instead of failing the entry.
	ImplicitIdentifiers bool
	// Comparator orders ranges when no document view is given. Without a
	// view or a comparator, ranges can only be combined on import.
	Comparator selector.Comparator
}

// Session is one annotated document. It is not safe for concurrent use.
type Session struct {
	source string
	view   *docview.View
	cmp    selector.Comparator // nil when ranges cannot be ordered
	opts   Options
	other  []exchange.Element

	Annotations *annotation.Store
	Identifiers *identifier.Registry
	References  *reference.Graph
	targets     map[string]*target.FragmentTarget
}

// New creates a session for source. view may be nil; offsets are then not
// derived, and imported path lists are replayed in their stored order.
func New(source string, view *docview.View, opts Options) *Session {
	s := &Session{
		source:      source,
		view:        view,
		opts:        opts,
		Annotations: annotation.NewStore(),
		Identifiers: identifier.NewRegistry(source),
		References:  reference.NewGraph(),
		targets:     make(map[string]*target.FragmentTarget),
	}
	if view != nil {
		s.cmp = view.Comparator()
	} else {
		s.cmp = opts.Comparator
	}
	return s
}

func (s *Session) Source() string                  { return s.source }
func (s *Session) View() *docview.View             { return s.view }
func (s *Session) Comparator() selector.Comparator { return s.cmp }

// orderer returns the comparator for new ranges, or ErrNoDocument.
func (s *Session) orderer() (selector.Comparator, error) {
	if s.cmp == nil {
		return nil, fmt.Errorf("%w: cannot order ranges", ErrNoDocument)
	}
	return s.cmp, nil
}

// replayOrder is used for lists that were reconciled before they were stored.
func (s *Session) replayOrder() selector.Comparator {
	if s.cmp == nil {
		return selector.TrustedOrder{}
	}
	return s.cmp
}

func (s *Session) newID(kind string) string {
	return s.source + "#" + kind + "." + uuid.NewString()
}

// Target returns the fragment target of an annotation.
func (s *Session) Target(annotationID string) (*target.FragmentTarget, error) {
	a, err := s.Annotations.Get(annotationID)
	if err != nil {
		return nil, err
	}
	tg, ok := s.targets[a.TargetID]
	if !ok {
		return nil, fmt.Errorf("annotation %s: target %s missing", annotationID, a.TargetID)
	}
	return tg, nil
}

// Annotate adds an annotation over the given ranges. A single range becomes
// a path selector; several are reconciled into a discontinuous path, which
// needs a document view or a configured comparator.
func (s *Session) Annotate(body json.RawMessage, creator string, paths ...*selector.Path) (*annotation.Annotation, error) {
	if len(paths) == 0 {
		return nil, ErrNoRange
	}
	for _, p := range paths {
		if p == nil {
			return nil, ErrNoRange
		}
	}

	var sel selector.PathLike
	if len(paths) == 1 {
		sel = copyPath(paths[0])
	} else {
		cmp, err := s.orderer()
		if err != nil {
			return nil, err
		}
		d := selector.NewDiscontinuousPath(nil)
		for _, p := range paths {
			if err := d.Insert(cmp, copyPath(p)); err != nil {
				return nil, fmt.Errorf("reconciling ranges: %w", err)
			}
		}
		sel = d
	}

	tg := target.New(s.newID("target"), s.source, sel)
	s.deriveOffsets(tg)

	a := annotation.New(s.newID("annotation"), tg.ID(), body, creator)
	if a.BodyType() == "" {
		return nil, fmt.Errorf("%w: body has no type", annotation.ErrInvalid)
	}
	if err := s.bindBody(a); err != nil {
		return nil, err
	}
	if err := s.Annotations.Add(a); err != nil {
		return nil, err
	}
	s.targets[tg.ID()] = tg
	logging.Debug("annotation added", "annotation", a.ID, "type", a.BodyType())
	return a, nil
}

func copyPath(p *selector.Path) *selector.Path {
	return selector.NewPath(p.StartPath, p.EndPath)
}

func (s *Session) deriveOffsets(tg *target.FragmentTarget) {
	if s.view == nil || !tg.HasPathSelector() {
		return
	}
	off, err := s.view.OffsetSelector(tg.PathSelector())
	if err != nil {
		logging.Warn("cannot derive offset selector", "target", tg.ID(), "error", err)
		return
	}
	tg.Set(off)
}

// AddDiscontinuity adds a range to an annotation's target, turning a plain
// path into a discontinuous one. The annotation moves to a new target.
func (s *Session) AddDiscontinuity(annotationID string, p *selector.Path) (*target.FragmentTarget, error) {
	if p == nil {
		return nil, ErrNoRange
	}
	cmp, err := s.orderer()
	if err != nil {
		return nil, err
	}
	old, err := s.Target(annotationID)
	if err != nil {
		return nil, err
	}
	current := old.PathSelector()
	if current == nil {
		return nil, fmt.Errorf("annotation %s: target has no path selector", annotationID)
	}

	// rebuild the list so a failed insert leaves the old target untouched
	d := selector.NewDiscontinuousPath(nil)
	switch cur := current.(type) {
	case *selector.DiscontinuousPath:
		for _, entry := range cur.List().Entries() {
			if err := d.Insert(selector.TrustedOrder{}, entry); err != nil {
				return nil, err
			}
		}
	case *selector.Path:
		if err := d.Insert(cmp, copyPath(cur)); err != nil {
			return nil, err
		}
	}
	if err := d.Insert(cmp, copyPath(p)); err != nil {
		return nil, fmt.Errorf("annotation %s: %w", annotationID, err)
	}

	tg := target.New(s.newID("target"), s.source, d)
	s.deriveOffsets(tg)

	a, _ := s.Annotations.Get(annotationID)
	delete(s.targets, old.ID())
	s.targets[tg.ID()] = tg
	a.TargetID = tg.ID()
	return tg, nil
}

// SetOffsets stores an offset selector on an annotation's target.
func (s *Session) SetOffsets(annotationID string, start, end int) error {
	if end < start {
		return fmt.Errorf("%w: offset end %d before start %d", selector.ErrMalformed, end, start)
	}
	tg, err := s.Target(annotationID)
	if err != nil {
		return err
	}
	tg.Set(&selector.Offset{Start: start, End: end})
	return nil
}

// Quote returns the text an annotation covers, from its first to its last range.
func (s *Session) Quote(annotationID string) (string, error) {
	if s.view == nil {
		return "", ErrNoDocument
	}
	tg, err := s.Target(annotationID)
	if err != nil {
		return "", err
	}
	p := tg.PathSelector()
	if p == nil {
		return "", fmt.Errorf("annotation %s: target has no path selector", annotationID)
	}
	return s.view.Quote(p.Range())
}

// NewIdentifier registers a fresh identifier.
func (s *Session) NewIdentifier(label string) *identifier.Identifier {
	return s.Identifiers.Create(label)
}

// Declare annotates the ranges as the declaration of an identifier.
func (s *Session) Declare(identifierID, polarity, creator string, paths ...*selector.Path) (*annotation.Annotation, error) {
	body, err := json.Marshal(identifier.DeclarationBody{
		Type:        identifier.TypeDeclaration,
		Declares:    identifierID,
		HasPolarity: polarity,
	})
	if err != nil {
		return nil, err
	}
	return s.Annotate(body, creator, paths...)
}

// Occur annotates the ranges as an occurrence of an identifier.
func (s *Session) Occur(identifierID, creator string, paths ...*selector.Path) (*annotation.Annotation, error) {
	body, err := json.Marshal(identifier.OccurrenceBody{
		Type:         identifier.TypeOccurrence,
		OccurrenceOf: identifierID,
	})
	if err != nil {
		return nil, err
	}
	return s.Annotate(body, creator, paths...)
}

// bindBody attaches identifier bodies to the registry.
func (s *Session) bindBody(a *annotation.Annotation) error {
	switch a.BodyType() {
	case identifier.TypeDeclaration:
		var body identifier.DeclarationBody
		if err := json.Unmarshal(a.Body, &body); err != nil {
			return fmt.Errorf("%w: %v", annotation.ErrInvalid, err)
		}
		s.resolveIdentifier(body.Declares)
		var previous string
		if i, err := s.Identifiers.Get(body.Declares); err == nil {
			previous, _ = i.DeclaringAnnotation()
		}
		if _, err := s.Identifiers.Declare(body, a.ID); err != nil {
			return err
		}
		if previous != "" && previous != a.ID {
			return s.demote(previous, body.Declares)
		}
		return nil
	case identifier.TypeOccurrence:
		var body identifier.OccurrenceBody
		if err := json.Unmarshal(a.Body, &body); err != nil {
			return fmt.Errorf("%w: %v", annotation.ErrInvalid, err)
		}
		s.resolveIdentifier(body.OccurrenceOf)
		_, err := s.Identifiers.Occur(body, a.ID)
		return err
	}
	return nil
}

// demote rewrites the body of a former declaration into an occurrence of
// the same identifier. The registry has already moved it.
func (s *Session) demote(annotationID, identifierID string) error {
	a, err := s.Annotations.Get(annotationID)
	if err != nil {
		logging.Warn("demoted declaration has no annotation", "annotation", annotationID, "identifier", identifierID)
		return nil
	}
	body, err := json.Marshal(identifier.OccurrenceBody{Type: identifier.TypeOccurrence, OccurrenceOf: identifierID})
	if err != nil {
		return err
	}
	a.Body = body
	logging.Debug("declaration demoted to occurrence", "annotation", annotationID, "identifier", identifierID)
	return nil
}

func (s *Session) resolveIdentifier(id string) {
	if s.opts.ImplicitIdentifiers && id != "" {
		s.Identifiers.Ensure(id)
	}
}

// Link creates a reference between two annotations.
func (s *Session) Link(sourceID, targetID, label string, undirected bool) (*reference.Reference, error) {
	r := reference.New(s.newID("reference"), label, undirected, s.Annotations)
	if _, err := r.SetSource(sourceID); err != nil {
		return nil, err
	}
	if _, err := r.SetTarget(targetID); err != nil {
		r.Remove()
		return nil, err
	}
	s.References.Add(r)
	return r, nil
}

// Unlink removes a reference.
func (s *Session) Unlink(referenceID string) bool {
	return s.References.Remove(referenceID)
}

// RemoveAnnotation deletes an annotation and its target. Its declarations
// and occurrences are dropped; references keep their other endpoint.
func (s *Session) RemoveAnnotation(id string) bool {
	a, err := s.Annotations.Get(id)
	if err != nil {
		return false
	}
	s.Identifiers.DetachAnnotation(id)
	for _, r := range s.References.Touching(id) {
		if r.Source() == id {
			r.RemoveSource()
		}
		if r.Target() == id {
			r.RemoveTarget()
		}
	}
	delete(s.targets, a.TargetID)
	s.Annotations.Remove(id)
	return true
}

// CheckResult is the outcome of resolving one annotation against the document.
type CheckResult struct {
	AnnotationID string
	Quote        string
	Err          error
}

// Check resolves every annotation's ranges in the loaded document.
func (s *Session) Check() ([]CheckResult, error) {
	if s.view == nil {
		return nil, ErrNoDocument
	}
	var results []CheckResult
	for _, a := range s.Annotations.All() {
		q, err := s.Quote(a.ID)
		results = append(results, CheckResult{AnnotationID: a.ID, Quote: q, Err: err})
	}
	return results, nil
}
