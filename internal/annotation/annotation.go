// Package annotation keeps the annotations of a document: what is said
// (the body) about a fragment target, and by whom. The store is the lookup
// references and identifiers resolve annotation ids through.
package annotation

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"annotize/internal/reference"
)

const TypeName = "Annotation"

var (
	ErrNotFound  = errors.New("annotation not found")
	ErrDuplicate = errors.New("duplicate annotation id")
	ErrInvalid   = errors.New("invalid annotation")
)

// Annotation is one annotation. Body is kept in its exchange form; its
// "type" field selects how it is interpreted.
type Annotation struct {
	ID       string
	TargetID string
	Body     json.RawMessage
	Creator  string

	refs map[string]*reference.Reference
}

// New creates an annotation. body must be a JSON object with a type field.
func New(id, targetID string, body json.RawMessage, creator string) *Annotation {
	return &Annotation{ID: id, TargetID: targetID, Body: body, Creator: creator}
}

// BodyType returns the type field of the body, or "" when it has none.
func (a *Annotation) BodyType() string {
	var head struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(a.Body, &head); err != nil {
		return ""
	}
	return head.Type
}

// HasValue reports whether a top-level field of the body holds value, either
// directly or as an element of a list.
func (a *Annotation) HasValue(value string) bool {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(a.Body, &fields); err != nil {
		return false
	}
	for name, raw := range fields {
		if name == "type" {
			continue
		}
		var s string
		if json.Unmarshal(raw, &s) == nil && s == value {
			return true
		}
		var list []string
		if json.Unmarshal(raw, &list) == nil {
			for _, item := range list {
				if item == value {
					return true
				}
			}
		}
	}
	return false
}

func (a *Annotation) AddReference(r *reference.Reference) {
	if a.refs == nil {
		a.refs = make(map[string]*reference.Reference)
	}
	a.refs[r.ID()] = r
}

func (a *Annotation) RemoveReference(id string) { delete(a.refs, id) }

// References returns the attached references ordered by id.
func (a *Annotation) References() []*reference.Reference {
	out := make([]*reference.Reference, 0, len(a.refs))
	for _, r := range a.refs {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID() < out[j].ID() })
	return out
}

type wireAnnotation struct {
	Type    string          `json:"type"`
	ID      string          `json:"id"`
	Target  string          `json:"target"`
	Body    json.RawMessage `json:"body"`
	Creator string          `json:"creator,omitempty"`
}

func (a *Annotation) MarshalJSON() ([]byte, error) {
	return json.Marshal(wireAnnotation{
		Type:    TypeName,
		ID:      a.ID,
		Target:  a.TargetID,
		Body:    a.Body,
		Creator: a.Creator,
	})
}

// Parse decodes and validates an annotation: id, target and a body with a
// type are required.
func Parse(raw json.RawMessage) (*Annotation, error) {
	var w wireAnnotation
	if err := json.Unmarshal(raw, &w); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	if w.Type != TypeName {
		return nil, fmt.Errorf("%w: type %q", ErrInvalid, w.Type)
	}
	if w.ID == "" {
		return nil, fmt.Errorf("%w: required field 'id' not found", ErrInvalid)
	}
	if w.Target == "" {
		return nil, fmt.Errorf("%w: %s: required field 'target' not found", ErrInvalid, w.ID)
	}
	if len(w.Body) == 0 || string(w.Body) == "null" {
		return nil, fmt.Errorf("%w: %s: required field 'body' not found", ErrInvalid, w.ID)
	}
	a := New(w.ID, w.Target, w.Body, w.Creator)
	if a.BodyType() == "" {
		return nil, fmt.Errorf("%w: %s: required field 'body.type' not found", ErrInvalid, w.ID)
	}
	return a, nil
}
