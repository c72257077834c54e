package reference

import "encoding/json"

// Graph indexes the references of one document by id.
type Graph struct {
	refs  map[string]*Reference
	order []string
}

// NewGraph creates an empty graph.
func NewGraph() *Graph {
	return &Graph{refs: make(map[string]*Reference)}
}

// Add registers r. It returns false if the id is already taken.
func (g *Graph) Add(r *Reference) bool {
	if r == nil {
		return false
	}
	if _, ok := g.refs[r.id]; ok {
		return false
	}
	g.refs[r.id] = r
	g.order = append(g.order, r.id)
	return true
}

func (g *Graph) Get(id string) (*Reference, bool) {
	r, ok := g.refs[id]
	return r, ok
}

// Remove detaches the reference's endpoints and drops it from the graph.
func (g *Graph) Remove(id string) bool {
	r, ok := g.refs[id]
	if !ok {
		return false
	}
	r.Remove()
	delete(g.refs, id)
	for i, cur := range g.order {
		if cur == id {
			g.order = append(g.order[:i:i], g.order[i+1:]...)
			break
		}
	}
	return true
}

// All returns every reference in insertion order.
func (g *Graph) All() []*Reference {
	out := make([]*Reference, 0, len(g.order))
	for _, id := range g.order {
		out = append(out, g.refs[id])
	}
	return out
}

func (g *Graph) filter(keep func(*Reference) bool) []*Reference {
	var out []*Reference
	for _, id := range g.order {
		if r := g.refs[id]; keep(r) {
			out = append(out, r)
		}
	}
	return out
}

// From returns the references whose source is annotationID.
func (g *Graph) From(annotationID string) []*Reference {
	return g.filter(func(r *Reference) bool { return r.source == annotationID })
}

// To returns the references whose target is annotationID.
func (g *Graph) To(annotationID string) []*Reference {
	return g.filter(func(r *Reference) bool { return r.target == annotationID })
}

// Touching returns the references with annotationID at either end.
func (g *Graph) Touching(annotationID string) []*Reference {
	return g.filter(func(r *Reference) bool {
		return annotationID != "" && (r.source == annotationID || r.target == annotationID)
	})
}

// Complete returns the references with both endpoints set.
func (g *Graph) Complete() []*Reference {
	return g.filter((*Reference).Complete)
}

func (g *Graph) MarshalJSON() ([]byte, error) {
	return json.Marshal(g.All())
}
