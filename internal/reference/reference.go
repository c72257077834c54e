// Package reference links pairs of annotations, directed or undirected,
// independently of identifiers. Endpoints are annotation ids resolved
// through a Resolver.
package reference

import (
	"encoding/json"
	"fmt"

	"annotize/internal/logging"
)

const TypeName = "Reference"

// Event names an endpoint change.
type Event string

const (
	SourceAdd    Event = "sourceAdd"
	TargetAdd    Event = "targetAdd"
	SourceRemove Event = "sourceRemove"
	TargetRemove Event = "targetRemove"
)

// Handle is the annotation side of an endpoint, which keeps track of the
// references attached to it.
type Handle interface {
	AddReference(r *Reference)
	RemoveReference(id string)
}

// Resolver looks up annotations by id.
type Resolver interface {
	Resolve(id string) (Handle, error)
}

// Listener is called after every endpoint change.
type Listener func(r *Reference, e Event)

// Reference is a labeled link between a source and a target annotation.
// Unset endpoints are empty strings.
type Reference struct {
	id         string
	Label      string
	Undirected bool

	source    string
	target    string
	resolver  Resolver
	listeners []Listener
}

func New(id, label string, undirected bool, resolver Resolver) *Reference {
	return &Reference{id: id, Label: label, Undirected: undirected, resolver: resolver}
}

func (r *Reference) ID() string      { return r.id }
func (r *Reference) Source() string  { return r.source }
func (r *Reference) Target() string  { return r.target }
func (r *Reference) HasSource() bool { return r.source != "" }
func (r *Reference) HasTarget() bool { return r.target != "" }

// Complete reports whether both endpoints are set.
func (r *Reference) Complete() bool { return r.HasSource() && r.HasTarget() }

// Subscribe registers l for endpoint change events.
func (r *Reference) Subscribe(l Listener) {
	if l != nil {
		r.listeners = append(r.listeners, l)
	}
}

func (r *Reference) emit(e Event) {
	for _, l := range append([]Listener(nil), r.listeners...) {
		l(r, e)
	}
}

// SetSource attaches the annotation id as source, replacing the current
// source. An empty id is a no-op returning false. If id cannot be resolved
// the current source is kept and the error returned.
func (r *Reference) SetSource(id string) (bool, error) {
	return r.set(&r.source, &r.target, id, "source", SourceAdd, SourceRemove)
}

// SetTarget is SetSource for the target endpoint.
func (r *Reference) SetTarget(id string) (bool, error) {
	return r.set(&r.target, &r.source, id, "target", TargetAdd, TargetRemove)
}

func (r *Reference) set(endpoint, other *string, id, name string, added, removed Event) (bool, error) {
	if id == "" {
		return false, nil
	}
	h, err := r.resolver.Resolve(id)
	if err != nil {
		return false, fmt.Errorf("reference %s: %s %s: %w", r.id, name, id, err)
	}
	r.unset(endpoint, other, name, removed)
	*endpoint = id
	h.AddReference(r)
	r.emit(added)
	return true, nil
}

// RemoveSource detaches the source. It returns false if none was set.
func (r *Reference) RemoveSource() bool {
	return r.unset(&r.source, &r.target, "source", SourceRemove)
}

// RemoveTarget detaches the target. It returns false if none was set.
func (r *Reference) RemoveTarget() bool {
	return r.unset(&r.target, &r.source, "target", TargetRemove)
}

// unset clears endpoint. The annotation stays registered when it is also
// the other endpoint of a self-reference.
func (r *Reference) unset(endpoint, other *string, name string, removed Event) bool {
	if *endpoint == "" {
		return false
	}
	if *endpoint != *other {
		r.detachFrom(*endpoint, name)
	}
	*endpoint = ""
	r.emit(removed)
	return true
}

func (r *Reference) detachFrom(id, name string) {
	h, err := r.resolver.Resolve(id)
	if err != nil {
		logging.Warn("reference endpoint no longer resolves", "reference", r.id, "endpoint", name, "error", err)
		return
	}
	h.RemoveReference(r.id)
}

// Remove detaches both endpoints. The reference keeps its id and can be
// attached again.
func (r *Reference) Remove() {
	r.RemoveSource()
	r.RemoveTarget()
}

type wireReference struct {
	Type       string `json:"type"`
	ID         string `json:"id"`
	Source     string `json:"source,omitempty"`
	Target     string `json:"target,omitempty"`
	Label      string `json:"label,omitempty"`
	Undirected bool   `json:"undirected,omitempty"`
}

func (r *Reference) MarshalJSON() ([]byte, error) {
	return json.Marshal(wireReference{
		Type:       TypeName,
		ID:         r.id,
		Source:     r.source,
		Target:     r.target,
		Label:      r.Label,
		Undirected: r.Undirected,
	})
}

// Parse decodes a reference and attaches its endpoints through resolver.
// On failure no endpoint stays attached.
func Parse(raw json.RawMessage, resolver Resolver) (*Reference, error) {
	var w wireReference
	if err := json.Unmarshal(raw, &w); err != nil {
		return nil, fmt.Errorf("reference: %w", err)
	}
	if w.Type != TypeName {
		return nil, fmt.Errorf("reference: unexpected type %q", w.Type)
	}
	if w.ID == "" {
		return nil, fmt.Errorf("reference: required field 'id' not found")
	}

	r := New(w.ID, w.Label, w.Undirected, resolver)
	if _, err := r.SetSource(w.Source); err != nil {
		return nil, err
	}
	if _, err := r.SetTarget(w.Target); err != nil {
		r.Remove()
		return nil, err
	}
	return r, nil
}
