package annotation

import (
	"fmt"

	"annotize/internal/reference"
)

// Store holds annotations in insertion order.
type Store struct {
	byID  map[string]*Annotation
	order []string
}

func NewStore() *Store {
	return &Store{byID: make(map[string]*Annotation)}
}

// Add registers a. Ids stay unique.
func (s *Store) Add(a *Annotation) error {
	if _, ok := s.byID[a.ID]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicate, a.ID)
	}
	s.byID[a.ID] = a
	s.order = append(s.order, a.ID)
	return nil
}

func (s *Store) Get(id string) (*Annotation, error) {
	a, ok := s.byID[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return a, nil
}

func (s *Store) Has(id string) bool {
	_, ok := s.byID[id]
	return ok
}

// Resolve implements reference.Resolver.
func (s *Store) Resolve(id string) (reference.Handle, error) {
	a, err := s.Get(id)
	if err != nil {
		return nil, err
	}
	return a, nil
}

func (s *Store) Remove(id string) bool {
	if _, ok := s.byID[id]; !ok {
		return false
	}
	delete(s.byID, id)
	for i, cur := range s.order {
		if cur == id {
			s.order = append(s.order[:i:i], s.order[i+1:]...)
			break
		}
	}
	return true
}

func (s *Store) Len() int { return len(s.order) }

// All returns the annotations in insertion order.
func (s *Store) All() []*Annotation {
	out := make([]*Annotation, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.byID[id])
	}
	return out
}

// Filter returns the annotations f complies with, in insertion order.
func (s *Store) Filter(f Filter) []*Annotation {
	var out []*Annotation
	for _, a := range s.All() {
		if f.Complies(a) {
			out = append(out, a)
		}
	}
	return out
}
