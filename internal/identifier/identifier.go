// Package identifier models named referents shared between annotations: one
// annotation declares an identifier, any number of annotations are
// occurrences of it. Declarations and occurrences refer to annotations and to
// their identifier by id only.
package identifier

import (
	"encoding/json"
	"errors"
	"fmt"

	"annotize/internal/logging"
)

const (
	TypeIdentifier  = "Identifier"
	TypeDeclaration = "IdentifierDeclaration"
	TypeOccurrence  = "IdentifierOccurrence"
)

var ErrNotFound = errors.New("identifier not found")

// DeclarationChangeFunc is told the declaring annotation's id whenever the
// declaration of an occurrence's identifier changes; declared is false when
// the identifier lost its declaration.
type DeclarationChangeFunc func(annotationID string, declared bool)

// Declaration marks an annotation as the defining one of an identifier.
type Declaration struct {
	// Polarity is the id of the tag qualifying the declaration.
	Polarity string

	annotationID string
	identifierID string
	teardown     func()
}

func NewDeclaration(polarity string) *Declaration {
	return &Declaration{Polarity: polarity}
}

// RegisterAnnotation binds the declaration to its annotation. teardown, if
// not nil, is run once when the declaration is detached.
func (d *Declaration) RegisterAnnotation(annotationID string, teardown func()) {
	d.annotationID = annotationID
	d.teardown = teardown
}

func (d *Declaration) AnnotationID() string { return d.annotationID }
func (d *Declaration) IdentifierID() string { return d.identifierID }

// Registered reports whether the declaration is set on an identifier.
func (d *Declaration) Registered() bool { return d.identifierID != "" }

func (d *Declaration) detach() {
	if d.teardown != nil {
		d.teardown()
		d.teardown = nil
	}
	d.identifierID = ""
	d.annotationID = ""
}

// DeclarationBody is the annotation body of a declaring annotation.
type DeclarationBody struct {
	Type        string `json:"type"`
	Declares    string `json:"declares"`
	HasPolarity string `json:"hasPolarity"`
}

// Body returns the exchange body of the declaration.
func (d *Declaration) Body() DeclarationBody {
	return DeclarationBody{Type: TypeDeclaration, Declares: d.identifierID, HasPolarity: d.Polarity}
}

// Occurrence marks an annotation as referring to an identifier.
type Occurrence struct {
	annotationID string
	identifierID string
	teardown     func()
	onChange     DeclarationChangeFunc
}

func NewOccurrence() *Occurrence { return &Occurrence{} }

// RegisterAnnotation binds the occurrence to its annotation. teardown, if
// not nil, is run once when the occurrence is removed.
func (o *Occurrence) RegisterAnnotation(annotationID string, teardown func()) {
	o.annotationID = annotationID
	o.teardown = teardown
}

// OnDeclarationChange sets the reaction to declaration changes.
func (o *Occurrence) OnDeclarationChange(fn DeclarationChangeFunc) { o.onChange = fn }

func (o *Occurrence) AnnotationID() string { return o.annotationID }
func (o *Occurrence) IdentifierID() string { return o.identifierID }

func (o *Occurrence) notify(annotationID string, declared bool) {
	if o.onChange != nil {
		o.onChange(annotationID, declared)
	}
}

func (o *Occurrence) detach() {
	if o.teardown != nil {
		o.teardown()
		o.teardown = nil
	}
	o.identifierID = ""
}

// OccurrenceBody is the annotation body of an occurrence annotation.
type OccurrenceBody struct {
	Type         string `json:"type"`
	OccurrenceOf string `json:"occurrenceOf"`
}

func (o *Occurrence) Body() OccurrenceBody {
	return OccurrenceBody{Type: TypeOccurrence, OccurrenceOf: o.identifierID}
}

// Identifier owns at most one declaration and an ordered list of occurrences.
type Identifier struct {
	id    string
	Label string

	declaration *Declaration
	occurrences []*Occurrence
}

func New(id, label string) *Identifier {
	return &Identifier{id: id, Label: label}
}

func (i *Identifier) ID() string                { return i.id }
func (i *Identifier) Declaration() *Declaration { return i.declaration }
func (i *Identifier) HasDeclaration() bool      { return i.declaration != nil }
func (i *Identifier) HasOccurrences() bool      { return len(i.occurrences) > 0 }

// Empty reports whether nothing declares or refers to the identifier.
func (i *Identifier) Empty() bool { return !i.HasDeclaration() && !i.HasOccurrences() }

// Occurrences returns the occurrences in insertion order.
func (i *Identifier) Occurrences() []*Occurrence {
	out := make([]*Occurrence, len(i.occurrences))
	copy(out, i.occurrences)
	return out
}

// DeclaringAnnotation returns the id of the declaring annotation.
func (i *Identifier) DeclaringAnnotation() (string, bool) {
	if i.declaration == nil {
		return "", false
	}
	return i.declaration.annotationID, true
}

// SetDeclaration attaches d, detaching the current declaration first, and
// notifies every occurrence. It returns false when d is already the
// declaration or is registered on another identifier.
func (i *Identifier) SetDeclaration(d *Declaration) bool {
	if d == nil {
		return false
	}
	if d == i.declaration {
		logging.Warn("declaration already set on identifier", "identifier", i.id)
		return false
	}
	if d.Registered() {
		logging.Warn("declaration registered on another identifier", "identifier", i.id, "registered", d.identifierID)
		return false
	}

	if i.declaration != nil {
		logging.Debug("replacing identifier declaration", "identifier", i.id, "previous", i.declaration.annotationID)
		i.declaration.detach()
	}
	i.declaration = d
	d.identifierID = i.id
	i.notifyOccurrences()
	return true
}

// RemoveDeclaration detaches the declaration and notifies every occurrence.
// It returns false if there was no declaration.
func (i *Identifier) RemoveDeclaration() bool {
	if i.declaration == nil {
		return false
	}
	i.declaration.detach()
	i.declaration = nil
	i.notifyOccurrences()
	return true
}

// Redeclare makes d the declaration and turns the previously declaring
// annotation into an occurrence, which is returned.
func (i *Identifier) Redeclare(d *Declaration) (*Occurrence, bool) {
	var previous string
	if i.declaration != nil {
		previous = i.declaration.annotationID
	}
	if !i.SetDeclaration(d) {
		return nil, false
	}
	if previous == "" || previous == d.annotationID {
		return nil, true
	}
	o := NewOccurrence()
	o.RegisterAnnotation(previous, nil)
	i.AddOccurrence(o)
	return o, true
}

// AddOccurrence appends o. An occurrence already registered on an
// identifier is rejected with a warning.
func (i *Identifier) AddOccurrence(o *Occurrence) bool {
	if o == nil {
		return false
	}
	if o.identifierID != "" {
		logging.Warn("occurrence already registered", "identifier", i.id, "registered", o.identifierID)
		return false
	}
	i.occurrences = append(i.occurrences, o)
	o.identifierID = i.id
	return true
}

// RemoveOccurrence removes o, matched by identity, and tears down its
// wiring. It returns false if o is not an occurrence of i.
func (i *Identifier) RemoveOccurrence(o *Occurrence) bool {
	for idx, cur := range i.occurrences {
		if cur != o {
			continue
		}
		i.occurrences = append(i.occurrences[:idx:idx], i.occurrences[idx+1:]...)
		o.detach()
		return true
	}
	return false
}

// Detach drops the declaration and all occurrences without notifying.
func (i *Identifier) Detach() {
	for _, o := range i.occurrences {
		o.detach()
	}
	i.occurrences = nil
	if i.declaration != nil {
		i.declaration.detach()
		i.declaration = nil
	}
}

func (i *Identifier) notifyOccurrences() {
	annotationID, declared := i.DeclaringAnnotation()
	// callbacks may add or remove occurrences
	snapshot := i.Occurrences()
	for _, o := range snapshot {
		o.notify(annotationID, declared)
	}
}

type wireIdentifier struct {
	Type     string `json:"type"`
	ID       string `json:"id"`
	IDString string `json:"idString,omitempty"`
}

func (i *Identifier) MarshalJSON() ([]byte, error) {
	return json.Marshal(wireIdentifier{Type: TypeIdentifier, ID: i.id, IDString: i.Label})
}

// Parse decodes an exchange-form identifier.
func Parse(raw json.RawMessage) (*Identifier, error) {
	var w wireIdentifier
	if err := json.Unmarshal(raw, &w); err != nil {
		return nil, fmt.Errorf("identifier: %w", err)
	}
	if w.Type != TypeIdentifier {
		return nil, fmt.Errorf("identifier: unexpected type %q", w.Type)
	}
	if w.ID == "" {
		return nil, fmt.Errorf("identifier: required field 'id' not found")
	}
	return New(w.ID, w.IDString), nil
}
