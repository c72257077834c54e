// Package docview is a read-only view of an annotated (X)HTML or XML
// document. It linearizes the document text, resolves boundary locators to
// character offsets and supplies the range comparator used to reconcile path
// selectors.
package docview

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"annotize/internal/locator"
	"annotize/internal/logging"
	"annotize/internal/selector"

	"github.com/antchfx/xmlquery"
	"github.com/antchfx/xpath"
)

// ErrUnresolved is returned when a locator does not point into the document.
var ErrUnresolved = errors.New("locator does not resolve")

// tableStepAlternative is the optional tbody step written into paths of
// table rows, since renderers may or may not insert the element.
const tableStepAlternative = "(tbody|self::*)"

type span struct {
	start, end int
}

// View is a parsed document with its linearized text. A View is not modified
// after Load and may be shared.
type View struct {
	root  *xmlquery.Node
	text  []rune
	spans map[*xmlquery.Node]span
	// elements in document order
	elements []*xmlquery.Node
}

// Load parses a document and linearizes its text.
func Load(r io.Reader) (*View, error) {
	root, err := xmlquery.Parse(r)
	if err != nil {
		return nil, fmt.Errorf("parsing document: %w", err)
	}
	v := &View{root: root, spans: make(map[*xmlquery.Node]span)}
	v.linearize(root)
	return v, nil
}

// LoadFile is Load for a file on disk.
func LoadFile(path string) (*View, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return Load(f)
}

func (v *View) linearize(n *xmlquery.Node) {
	start := len(v.text)
	switch n.Type {
	case xmlquery.TextNode, xmlquery.CharDataNode:
		v.text = append(v.text, []rune(n.Data)...)
	case xmlquery.ElementNode:
		v.elements = append(v.elements, n)
	}
	for child := n.FirstChild; child != nil; child = child.NextSibling {
		v.linearize(child)
	}
	v.spans[n] = span{start: start, end: len(v.text)}
}

// Text returns the linearized document text.
func (v *View) Text() string { return string(v.text) }

// Len returns the length of the linearized text in characters.
func (v *View) Len() int { return len(v.text) }

// Resolve returns the first node the XPath selects. Paths that do not match
// as written are retried with the table step alternative resolved and with
// the wildcard segments removed.
func (v *View) Resolve(path string) (*xmlquery.Node, error) {
	var lastErr error
	for i, candidate := range candidates(path) {
		expr, err := xpath.Compile(candidate)
		if err != nil {
			lastErr = err
			continue
		}
		if node := xmlquery.QuerySelector(v.root, expr); node != nil {
			if i > 0 {
				logging.Debug("resolved path through fallback", "path", path, "resolved", candidate)
			}
			return node, nil
		}
	}
	if lastErr != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrUnresolved, path, lastErr)
	}
	return nil, fmt.Errorf("%w: %s", ErrUnresolved, path)
}

func candidates(path string) []string {
	out := []string{path}
	add := func(c string) {
		for _, seen := range out {
			if seen == c {
				return
			}
		}
		out = append(out, c)
	}

	if strings.Contains(path, tableStepAlternative) {
		add(strings.ReplaceAll(path, tableStepAlternative, "tbody"))
		add(strings.ReplaceAll(path, "/"+tableStepAlternative, ""))
	}

	bare := strings.ReplaceAll(path, selector.WildcardSegment, "")
	bare = strings.ReplaceAll(bare, "/"+tableStepAlternative, "")
	if bare != "" && !strings.HasPrefix(bare, "//") {
		add(bare)
		// exported XML paths lose the document element
		add(selector.WildcardSegment + bare)
		add("/" + bare)
	}
	return out
}

// Position resolves a boundary locator to a character offset.
func (v *View) Position(raw string) (int, error) {
	loc, err := locator.Parse(raw)
	if err != nil {
		return 0, err
	}
	node, err := v.Resolve(loc.XPath)
	if err != nil {
		return 0, err
	}
	s := v.spans[node]

	switch loc.Kind {
	case locator.KindNode:
		return s.start, nil
	case locator.KindAfterNode:
		return s.end, nil
	case locator.KindChar:
		if loc.Offset > s.end-s.start {
			return 0, fmt.Errorf("%w: %s: offset beyond %d characters", ErrUnresolved, raw, s.end-s.start)
		}
		return s.start + loc.Offset, nil
	default:
		return 0, fmt.Errorf("%w: %s: unknown locator kind", ErrUnresolved, raw)
	}
}

// ComparePoints orders two boundary locators by their character offsets.
// Points at the same offset compare equal, so ranges that touch overlap.
func (v *View) ComparePoints(a, b string) (int, error) {
	x, err := v.Position(a)
	if err != nil {
		return 0, err
	}
	y, err := v.Position(b)
	if err != nil {
		return 0, err
	}
	return x - y, nil
}

// Comparator returns the range comparator for path selectors of this document.
func (v *View) Comparator() selector.Comparator {
	return selector.PointOrder(v.ComparePoints)
}

func (v *View) bounds(r selector.Range) (int, int, error) {
	if r.Start == "" || r.End == "" {
		return 0, 0, fmt.Errorf("%w: empty range", ErrUnresolved)
	}
	start, err := v.Position(r.Start)
	if err != nil {
		return 0, 0, err
	}
	end, err := v.Position(r.End)
	if err != nil {
		return 0, 0, err
	}
	if end < start {
		return 0, 0, fmt.Errorf("%w: range ends before it starts", ErrUnresolved)
	}
	return start, end, nil
}

// Quote returns the document text covered by r.
func (v *View) Quote(r selector.Range) (string, error) {
	start, end, err := v.bounds(r)
	if err != nil {
		return "", err
	}
	return string(v.text[start:end]), nil
}

// OffsetSelector derives the offset selector addressing the same text as p.
// For a discontinuous path it spans from the first to the last range.
func (v *View) OffsetSelector(p selector.PathLike) (*selector.Offset, error) {
	start, end, err := v.bounds(p.Range())
	if err != nil {
		return nil, err
	}
	return &selector.Offset{Start: start, End: end}, nil
}

// PathSelector builds a path selector for the character range [start, end).
// Each boundary is anchored on the innermost element containing it.
func (v *View) PathSelector(start, end int) (*selector.Path, error) {
	if start < 0 || end < start || end > len(v.text) {
		return nil, fmt.Errorf("%w: range [%d, %d) outside document of %d characters", ErrUnresolved, start, end, len(v.text))
	}
	from, err := v.startLocator(start)
	if err != nil {
		return nil, err
	}
	to, err := v.endLocator(end)
	if err != nil {
		return nil, err
	}
	return selector.NewPath(from.String(), to.String()), nil
}

func (v *View) startLocator(offset int) (locator.Locator, error) {
	var inner *xmlquery.Node
	for _, el := range v.elements {
		if s := v.spans[el]; s.start <= offset && offset < s.end {
			inner = el
		}
	}
	if inner == nil {
		if len(v.elements) == 0 {
			return locator.Locator{}, fmt.Errorf("%w: document has no elements", ErrUnresolved)
		}
		return locator.AfterNode(v.XPath(v.elements[0])), nil
	}
	return locator.Char(v.XPath(inner), offset-v.spans[inner].start), nil
}

func (v *View) endLocator(offset int) (locator.Locator, error) {
	var inner *xmlquery.Node
	for _, el := range v.elements {
		if s := v.spans[el]; s.start < offset && offset <= s.end {
			inner = el
		}
	}
	if inner == nil {
		if len(v.elements) == 0 {
			return locator.Locator{}, fmt.Errorf("%w: document has no elements", ErrUnresolved)
		}
		return locator.Node(v.XPath(v.elements[0])), nil
	}
	s := v.spans[inner]
	if offset == s.end {
		return locator.AfterNode(v.XPath(inner)), nil
	}
	return locator.Char(v.XPath(inner), offset-s.start), nil
}

// XPath returns the absolute, positionally indexed path of an element.
func (v *View) XPath(n *xmlquery.Node) string {
	var steps []string
	for ; n != nil && n.Type == xmlquery.ElementNode; n = n.Parent {
		idx := 1
		for sib := n.PrevSibling; sib != nil; sib = sib.PrevSibling {
			if sib.Type == xmlquery.ElementNode && sib.Data == n.Data {
				idx++
			}
		}
		steps = append(steps, n.Data+"["+strconv.Itoa(idx)+"]")
	}

	var sb strings.Builder
	for i := len(steps) - 1; i >= 0; i-- {
		sb.WriteString("/")
		sb.WriteString(steps[i])
	}
	return sb.String()
}
