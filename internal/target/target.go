// Package target holds fragment targets: the addressable location of one
// annotation inside a source document.
package target

import (
	"encoding/json"
	"errors"
	"fmt"

	"annotize/internal/logging"
	"annotize/internal/selector"
)

// TypeName is the exchange type of a fragment target.
const TypeName = "FragmentTarget"

// ErrInvalid is returned for fragment targets that cannot be imported.
var ErrInvalid = errors.New("invalid fragment target")

// FragmentTarget bundles the selectors of one annotation target, at most one
// per slot. A target may carry a path and an offset selector at the same
// time, both addressing the same text.
type FragmentTarget struct {
	id        string
	source    string
	order     []selector.Kind
	selectors map[selector.Kind]selector.Selector
}

// New creates a target. Later selectors replace earlier ones of the same slot.
func New(id, source string, sels ...selector.Selector) *FragmentTarget {
	t := &FragmentTarget{
		id:        id,
		source:    source,
		selectors: make(map[selector.Kind]selector.Selector),
	}
	for _, s := range sels {
		t.Set(s)
	}
	return t
}

func (t *FragmentTarget) ID() string     { return t.id }
func (t *FragmentTarget) Source() string { return t.source }

// Set stores s in its slot, replacing the previous selector of that slot.
func (t *FragmentTarget) Set(s selector.Selector) {
	if s == nil {
		return
	}
	slot := selector.Slot(s.Kind())
	if _, ok := t.selectors[slot]; !ok {
		t.order = append(t.order, slot)
	}
	t.selectors[slot] = s
}

// Get returns the selector stored in slot.
func (t *FragmentTarget) Get(slot selector.Kind) (selector.Selector, bool) {
	s, ok := t.selectors[selector.Slot(slot)]
	return s, ok
}

// Delete clears a slot and reports whether it was set.
func (t *FragmentTarget) Delete(slot selector.Kind) bool {
	slot = selector.Slot(slot)
	if _, ok := t.selectors[slot]; !ok {
		return false
	}
	delete(t.selectors, slot)
	for i, k := range t.order {
		if k == slot {
			t.order = append(t.order[:i:i], t.order[i+1:]...)
			break
		}
	}
	return true
}

func (t *FragmentTarget) HasPathSelector() bool {
	_, ok := t.selectors[selector.KindPath]
	return ok
}

func (t *FragmentTarget) HasOffsetSelector() bool {
	_, ok := t.selectors[selector.KindOffset]
	return ok
}

// PathSelector returns the path or discontinuous path selector, or nil with
// a logged warning when the target has none.
func (t *FragmentTarget) PathSelector() selector.PathLike {
	s, ok := t.selectors[selector.KindPath]
	if !ok {
		logging.Warn("fragment target has no path selector", "target", t.id)
		return nil
	}
	p, _ := s.(selector.PathLike)
	return p
}

// OffsetSelector returns the offset selector, or nil with a logged warning
// when the target has none.
func (t *FragmentTarget) OffsetSelector() *selector.Offset {
	s, ok := t.selectors[selector.KindOffset]
	if !ok {
		logging.Warn("fragment target has no offset selector", "target", t.id)
		return nil
	}
	o, _ := s.(*selector.Offset)
	return o
}

// Selectors returns the selectors in the order their slots were first set.
func (t *FragmentTarget) Selectors() []selector.Selector {
	out := make([]selector.Selector, 0, len(t.order))
	for _, k := range t.order {
		out = append(out, t.selectors[k])
	}
	return out
}

type wireTarget struct {
	Type     string            `json:"type"`
	ID       string            `json:"id"`
	Source   string            `json:"source"`
	Selector []json.RawMessage `json:"selector"`
}

func (t *FragmentTarget) MarshalJSON() ([]byte, error) {
	sels := make([]json.RawMessage, 0, len(t.order))
	for _, s := range t.Selectors() {
		form, err := selector.ExchangeForm(s)
		if err != nil {
			return nil, fmt.Errorf("target %s: %w", t.id, err)
		}
		data, err := json.Marshal(form)
		if err != nil {
			return nil, err
		}
		sels = append(sels, data)
	}
	return json.Marshal(wireTarget{Type: TypeName, ID: t.id, Source: t.source, Selector: sels})
}

// Parse decodes a fragment target. Selectors of unsupported types are skipped
// with a warning; a malformed selector fails the whole target.
func Parse(raw json.RawMessage, cmp selector.Comparator) (*FragmentTarget, error) {
	var w wireTarget
	if err := json.Unmarshal(raw, &w); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	if w.Type != TypeName {
		return nil, fmt.Errorf("%w: type %q", ErrInvalid, w.Type)
	}
	if w.ID == "" {
		return nil, fmt.Errorf("%w: required field 'id' not found", ErrInvalid)
	}
	if w.Source == "" {
		return nil, fmt.Errorf("%w: %s: required field 'source' not found", ErrInvalid, w.ID)
	}
	if w.Selector == nil {
		return nil, fmt.Errorf("%w: %s: required field 'selector' not found", ErrInvalid, w.ID)
	}

	t := New(w.ID, w.Source)
	for i, raw := range w.Selector {
		s, err := selector.Parse(raw, cmp)
		if errors.Is(err, selector.ErrUnsupported) {
			logging.Warn("selector not supported, ignoring", "target", w.ID, "index", i, "error", err)
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("%w: %s: selector %d: %w", ErrInvalid, w.ID, i, err)
		}
		if s.Kind() == selector.KindList {
			logging.Warn("bare list selector on target, ignoring", "target", w.ID, "index", i)
			continue
		}
		t.Set(s)
	}
	return t, nil
}
