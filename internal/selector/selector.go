// Package selector describes where an annotation target lives inside a
// document: character offsets, a contiguous structural path range, or an
// ordered overlap-free list of path ranges for discontinuous selections.
//
// The list is kept ordered and overlap-free by the reconciliation engine
// (List.Insert). Ordering of structural paths needs document context, so the
// engine takes a Comparator supplied by the document view.
package selector

// Kind names a selector variant.
type Kind string

const (
	KindOffset            Kind = "OffsetSelector"
	KindPath              Kind = "PathSelector"
	KindList              Kind = "ListSelector"
	KindDiscontinuousPath Kind = "DiscontinuousPathSelector"
)

// WildcardSegment is the path-normalization marker removed from path
// locators when they are serialized.
const WildcardSegment = "/*"

// Selector is implemented by Offset, Path, List and DiscontinuousPath only.
type Selector interface {
	Kind() Kind
	sealed()
}

// PathLike is a selector addressing a structural range: a Path or a
// DiscontinuousPath. Both occupy the "PathSelector" slot of a target.
type PathLike interface {
	Selector
	Range() Range
	Discontinuous() bool
}

// Range is a pair of structural boundary locators; Start inclusive, End exclusive.
type Range struct {
	Start string
	End   string
}

// Offset addresses a target by character offsets into the linearized document.
type Offset struct {
	Start int
	End   int
}

func (*Offset) Kind() Kind { return KindOffset }
func (*Offset) sealed()    {}

// Path addresses one contiguous range between two structural locators.
type Path struct {
	StartPath string
	EndPath   string
}

// NewPath returns a Path for the given locators.
func NewPath(startPath, endPath string) *Path {
	return &Path{StartPath: startPath, EndPath: endPath}
}

func (*Path) Kind() Kind           { return KindPath }
func (*Path) sealed()              {}
func (*Path) Discontinuous() bool  { return false }
func (p *Path) Range() Range       { return Range{Start: p.StartPath, End: p.EndPath} }
func (p *Path) Equal(o *Path) bool { return o != nil && p.StartPath == o.StartPath && p.EndPath == o.EndPath }

// List is an ordered, pairwise non-overlapping sequence of Path selectors.
// Entries are in document order, not creation order.
type List struct {
	entries []*Path
}

func (*List) Kind() Kind { return KindList }
func (*List) sealed()    {}

// Len returns the number of entries.
func (l *List) Len() int { return len(l.entries) }

// Entries returns a copy of the entries in document order.
func (l *List) Entries() []*Path {
	out := make([]*Path, len(l.entries))
	copy(out, l.entries)
	return out
}

// At returns the i-th entry, or nil when i is out of range.
func (l *List) At(i int) *Path {
	if i < 0 || i >= len(l.entries) {
		return nil
	}
	return l.entries[i]
}

// DiscontinuousPath is a path selector refined by a list of ranges.
type DiscontinuousPath struct {
	list *List
}

// NewDiscontinuousPath wraps list; a nil list starts empty.
func NewDiscontinuousPath(list *List) *DiscontinuousPath {
	if list == nil {
		list = &List{}
	}
	return &DiscontinuousPath{list: list}
}

func (*DiscontinuousPath) Kind() Kind          { return KindDiscontinuousPath }
func (*DiscontinuousPath) sealed()             {}
func (*DiscontinuousPath) Discontinuous() bool { return true }

// List returns the refining list.
func (d *DiscontinuousPath) List() *List { return d.list }

// StartPath is the first entry's start, or "" for an empty list.
func (d *DiscontinuousPath) StartPath() string {
	if first := d.list.At(0); first != nil {
		return first.StartPath
	}
	return ""
}

// EndPath is the last entry's end, or "" for an empty list.
func (d *DiscontinuousPath) EndPath() string {
	if last := d.list.At(d.list.Len() - 1); last != nil {
		return last.EndPath
	}
	return ""
}

func (d *DiscontinuousPath) Range() Range {
	return Range{Start: d.StartPath(), End: d.EndPath()}
}

// Insert reconciles p into the refining list.
func (d *DiscontinuousPath) Insert(cmp Comparator, p *Path) error {
	return d.list.Insert(cmp, p)
}

// Slot returns the target slot a selector kind is stored under. Path and
// DiscontinuousPath share the PathSelector slot.
func Slot(k Kind) Kind {
	if k == KindDiscontinuousPath {
		return KindPath
	}
	return k
}
