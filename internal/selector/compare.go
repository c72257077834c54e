package selector

import (
	"fmt"
	"strconv"
)

// Relation is the position of one range relative to another.
type Relation int

const (
	RelationUnknown Relation = iota
	Before
	After
	Overlapping
)

func (r Relation) String() string {
	switch r {
	case Before:
		return "before"
	case After:
		return "after"
	case Overlapping:
		return "overlapping"
	default:
		return "unknown(" + strconv.Itoa(int(r)) + ")"
	}
}

// Comparator orders structural ranges. It is provided by the document view,
// since comparing paths requires the document itself.
//
// Tie-breaking on equal boundaries belongs to the implementation; PointOrder
// treats ranges that touch as overlapping.
type Comparator interface {
	// Relate reports where a lies relative to b.
	Relate(a, b Range) (Relation, error)
	// CompareStarts returns <0, 0, >0 as a.Start is before, at or after b.Start.
	CompareStarts(a, b Range) (int, error)
	// CompareEnds returns <0, 0, >0 as a.End is before, at or after b.End.
	CompareEnds(a, b Range) (int, error)
}

// PointOrder orders two boundary locators; it returns <0, 0 or >0.
// It implements Comparator with DOM boundary-point semantics: a is before b
// when a ends strictly before b starts, after b when it starts strictly after
// b ends, and overlapping otherwise.
type PointOrder func(a, b string) (int, error)

func (o PointOrder) Relate(a, b Range) (Relation, error) {
	c, err := o(a.End, b.Start)
	if err != nil {
		return RelationUnknown, err
	}
	if c < 0 {
		return Before, nil
	}
	c, err = o(a.Start, b.End)
	if err != nil {
		return RelationUnknown, err
	}
	if c > 0 {
		return After, nil
	}
	return Overlapping, nil
}

func (o PointOrder) CompareStarts(a, b Range) (int, error) { return o(a.Start, b.Start) }
func (o PointOrder) CompareEnds(a, b Range) (int, error)   { return o(a.End, b.End) }

// OffsetOrder orders locators holding decimal character offsets. Useful
// wherever the linearized offset is the locator.
var OffsetOrder = PointOrder(func(a, b string) (int, error) {
	x, err := strconv.Atoi(a)
	if err != nil {
		return 0, fmt.Errorf("offset locator %q: %w", a, err)
	}
	y, err := strconv.Atoi(b)
	if err != nil {
		return 0, fmt.Errorf("offset locator %q: %w", b, err)
	}
	return x - y, nil
})

// TrustedOrder places every inserted range after the existing ones and never
// merges. Use it to replay lists that were reconciled before they were
// exported, when no document is at hand.
type TrustedOrder struct{}

func (TrustedOrder) Relate(a, b Range) (Relation, error)   { return After, nil }
func (TrustedOrder) CompareStarts(a, b Range) (int, error) { return 1, nil }
func (TrustedOrder) CompareEnds(a, b Range) (int, error)   { return 1, nil }
