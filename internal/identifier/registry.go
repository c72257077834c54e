package identifier

import (
	"encoding/json"
	"fmt"
	"sort"

	"annotize/internal/logging"

	"github.com/google/uuid"
)

// Registry holds the identifiers of one source document.
type Registry struct {
	source      string
	identifiers map[string]*Identifier
}

func NewRegistry(source string) *Registry {
	return &Registry{source: source, identifiers: make(map[string]*Identifier)}
}

// NewID returns a fresh identifier id scoped to the registry's source.
func (r *Registry) NewID() string {
	return r.source + "#identifier." + uuid.NewString()
}

// Create adds a new identifier with a fresh id.
func (r *Registry) Create(label string) *Identifier {
	i := New(r.NewID(), label)
	r.identifiers[i.id] = i
	return i
}

// Add registers i. An id that is already present is skipped with a warning.
func (r *Registry) Add(i *Identifier) bool {
	if i == nil {
		return false
	}
	if _, ok := r.identifiers[i.id]; ok {
		logging.Warn("identifier already present, skipping", "identifier", i.id)
		return false
	}
	r.identifiers[i.id] = i
	return true
}

func (r *Registry) Get(id string) (*Identifier, error) {
	i, ok := r.identifiers[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return i, nil
}

func (r *Registry) Has(id string) bool {
	_, ok := r.identifiers[id]
	return ok
}

// Ensure returns the identifier for id, creating an unlabeled one if needed.
func (r *Registry) Ensure(id string) *Identifier {
	if i, ok := r.identifiers[id]; ok {
		return i
	}
	logging.Debug("creating implicit identifier", "identifier", id)
	i := New(id, "")
	r.identifiers[id] = i
	return i
}

// Remove deletes the identifier together with its declaration and occurrences.
func (r *Registry) Remove(id string) bool {
	i, ok := r.identifiers[id]
	if !ok {
		return false
	}
	i.Detach()
	delete(r.identifiers, id)
	return true
}

// IDs returns all identifier ids, sorted.
func (r *Registry) IDs() []string {
	ids := make([]string, 0, len(r.identifiers))
	for id := range r.identifiers {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Identifiers returns all identifiers ordered by id.
func (r *Registry) Identifiers() []*Identifier {
	out := make([]*Identifier, 0, len(r.identifiers))
	for _, id := range r.IDs() {
		out = append(out, r.identifiers[id])
	}
	return out
}

// Declare makes annotationID the declaration of the identifier named in body.
// A previously declaring annotation becomes an occurrence of the identifier.
func (r *Registry) Declare(body DeclarationBody, annotationID string) (*Declaration, error) {
	i, err := r.Get(body.Declares)
	if err != nil {
		return nil, err
	}
	d := NewDeclaration(body.HasPolarity)
	d.RegisterAnnotation(annotationID, nil)
	if previous, ok := i.DeclaringAnnotation(); ok {
		logging.Warn("identifier redeclared, previous declaration becomes an occurrence",
			"identifier", i.id, "previous", previous, "annotation", annotationID)
	}
	if _, ok := i.Redeclare(d); !ok {
		return nil, fmt.Errorf("identifier %s: declaration by %s not attached", i.id, annotationID)
	}
	return d, nil
}

// Occur adds annotationID as an occurrence of the identifier named in body.
func (r *Registry) Occur(body OccurrenceBody, annotationID string) (*Occurrence, error) {
	i, err := r.Get(body.OccurrenceOf)
	if err != nil {
		return nil, err
	}
	o := NewOccurrence()
	o.RegisterAnnotation(annotationID, nil)
	i.AddOccurrence(o)
	return o, nil
}

// DetachAnnotation removes every declaration and occurrence bound to
// annotationID and returns how many were removed.
func (r *Registry) DetachAnnotation(annotationID string) int {
	n := 0
	for _, i := range r.Identifiers() {
		if d := i.declaration; d != nil && d.annotationID == annotationID {
			i.RemoveDeclaration()
			n++
		}
		for _, o := range i.Occurrences() {
			if o.annotationID == annotationID && i.RemoveOccurrence(o) {
				n++
			}
		}
	}
	return n
}

// InUse returns the identifiers that are declared or referred to, ordered by id.
func (r *Registry) InUse() []*Identifier {
	out := make([]*Identifier, 0, len(r.identifiers))
	for _, i := range r.Identifiers() {
		if i.Empty() {
			continue
		}
		out = append(out, i)
	}
	return out
}

// MarshalJSON writes the identifiers in use.
func (r *Registry) MarshalJSON() ([]byte, error) {
	return json.Marshal(r.InUse())
}
