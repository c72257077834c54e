package selector

import (
	"encoding/json"
	"fmt"
	"strings"

	"annotize/internal/logging"
)

type offsetForm struct {
	Type      string `json:"type"`
	StartPath int    `json:"startPath"`
	EndPath   int    `json:"endPath"`
}

type pathForm struct {
	Type      string `json:"type"`
	StartPath string `json:"startPath"`
	EndPath   string `json:"endPath"`
}

type listForm struct {
	Type string     `json:"type"`
	Vals []pathForm `json:"vals"`
}

type discontinuousForm struct {
	Type      string   `json:"type"`
	StartPath string   `json:"startPath"`
	EndPath   string   `json:"endPath"`
	RefinedBy listForm `json:"refinedBy"`
}

// ExchangeForm returns the JSON-ready value for s.
func ExchangeForm(s Selector) (any, error) {
	switch v := s.(type) {
	case *Offset:
		// The offset shape reuses the path field names.
		return offsetForm{Type: string(KindOffset), StartPath: v.Start, EndPath: v.End}, nil
	case *Path:
		return v.form(), nil
	case *List:
		return v.form(), nil
	case *DiscontinuousPath:
		return discontinuousForm{
			Type:      string(KindPath),
			StartPath: v.StartPath(),
			EndPath:   v.EndPath(),
			RefinedBy: v.list.form(),
		}, nil
	case nil:
		return nil, fmt.Errorf("%w: nil selector", ErrUnsupported)
	default:
		return nil, fmt.Errorf("%w: %T", ErrUnsupported, s)
	}
}

func (p *Path) form() pathForm {
	return pathForm{
		Type:      string(KindPath),
		StartPath: stripWildcards(p.StartPath),
		EndPath:   stripWildcards(p.EndPath),
	}
}

func (l *List) form() listForm {
	vals := make([]pathForm, 0, len(l.entries))
	for _, entry := range l.entries {
		vals = append(vals, entry.form())
	}
	return listForm{Type: string(KindList), Vals: vals}
}

func stripWildcards(path string) string {
	return strings.ReplaceAll(path, WildcardSegment, "")
}

func marshal(s Selector) ([]byte, error) {
	form, err := ExchangeForm(s)
	if err != nil {
		return nil, err
	}
	return json.Marshal(form)
}

func (o *Offset) MarshalJSON() ([]byte, error)            { return marshal(o) }
func (p *Path) MarshalJSON() ([]byte, error)              { return marshal(p) }
func (l *List) MarshalJSON() ([]byte, error)              { return marshal(l) }
func (d *DiscontinuousPath) MarshalJSON() ([]byte, error) { return marshal(d) }

type wireSelector struct {
	Type      string            `json:"type"`
	StartPath json.RawMessage   `json:"startPath"`
	EndPath   json.RawMessage   `json:"endPath"`
	Start     *int              `json:"start"`
	End       *int              `json:"end"`
	RefinedBy json.RawMessage   `json:"refinedBy"`
	Vals      []json.RawMessage `json:"vals"`
}

// Parse decodes one selector from its exchange form. Ranges of a refined or
// list selector are reconciled through cmp in the order they appear.
func Parse(raw json.RawMessage, cmp Comparator) (Selector, error) {
	var w wireSelector
	if err := json.Unmarshal(raw, &w); err != nil {
		return nil, malformedf("%v", err)
	}

	switch Kind(w.Type) {
	case KindPath:
		if len(w.RefinedBy) > 0 && string(w.RefinedBy) != "null" {
			list, err := parseList(w.RefinedBy, cmp)
			if err != nil {
				return nil, fmt.Errorf("refinedBy: %w", err)
			}
			return NewDiscontinuousPath(list), nil
		}
		return parsePath(w)
	case KindOffset:
		return parseOffset(w)
	case KindList:
		return parseList(raw, cmp)
	case "":
		return nil, malformedf("missing field 'type'")
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupported, w.Type)
	}
}

func parsePath(w wireSelector) (*Path, error) {
	if len(w.StartPath) == 0 {
		return nil, malformedf("required field 'startPath' not found")
	}
	if len(w.EndPath) == 0 {
		return nil, malformedf("required field 'endPath' not found")
	}
	p := &Path{}
	if err := json.Unmarshal(w.StartPath, &p.StartPath); err != nil {
		return nil, malformedf("startPath: %v", err)
	}
	if err := json.Unmarshal(w.EndPath, &p.EndPath); err != nil {
		return nil, malformedf("endPath: %v", err)
	}
	return p, nil
}

// parseOffset reads the startPath/endPath names the offset shape is written
// with, falling back to start/end.
func parseOffset(w wireSelector) (*Offset, error) {
	o := &Offset{}
	switch {
	case len(w.StartPath) > 0 && len(w.EndPath) > 0:
		if err := json.Unmarshal(w.StartPath, &o.Start); err != nil {
			return nil, malformedf("startPath: %v", err)
		}
		if err := json.Unmarshal(w.EndPath, &o.End); err != nil {
			return nil, malformedf("endPath: %v", err)
		}
	case w.Start != nil && w.End != nil:
		o.Start, o.End = *w.Start, *w.End
	default:
		return nil, malformedf("offset selector needs startPath/endPath")
	}
	if o.End < o.Start {
		return nil, malformedf("offset end %d before start %d", o.End, o.Start)
	}
	return o, nil
}

func parseList(raw json.RawMessage, cmp Comparator) (*List, error) {
	var w wireSelector
	if err := json.Unmarshal(raw, &w); err != nil {
		return nil, malformedf("%v", err)
	}
	if Kind(w.Type) != KindList {
		return nil, fmt.Errorf("%w: refined by %q, want %s", ErrUnsupported, w.Type, KindList)
	}

	list := &List{}
	for i, val := range w.Vals {
		var entry wireSelector
		if err := json.Unmarshal(val, &entry); err != nil {
			return nil, malformedf("vals[%d]: %v", i, err)
		}
		if Kind(entry.Type) != KindPath || len(entry.RefinedBy) > 0 {
			logging.Warn("list entries must be plain path selectors, skipping", "index", i, "type", entry.Type)
			continue
		}
		p, err := parsePath(entry)
		if err != nil {
			return nil, fmt.Errorf("vals[%d]: %w", i, err)
		}
		if err := list.Insert(cmp, p); err != nil {
			return nil, err
		}
	}
	return list, nil
}
