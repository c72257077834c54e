// Package locator parses the structural boundary locators stored in path
// selectors. A locator names a point in the document relative to the node an
// XPath expression selects:
//
//	node(/html/body/p[2])        before the node
//	after-node(/html/body/p[2])  after the node
//	char(/html/body/p[2],14)     14 characters into the node's text
package locator

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/alecthomas/participle/v2"
	"github.com/alecthomas/participle/v2/lexer"
)

// ErrSyntax is returned for strings that are not valid locators.
var ErrSyntax = errors.New("locator syntax error")

// Kind is the locator function name.
type Kind string

const (
	KindNode      Kind = "node"
	KindAfterNode Kind = "after-node"
	KindChar      Kind = "char"
)

// Locator is a parsed boundary locator. Offset is only meaningful for KindChar.
type Locator struct {
	Kind   Kind
	XPath  string
	Offset int
}

type locatorGrammar struct {
	Kind   string `parser:"@Keyword '('"`
	XPath  string `parser:"@Path"`
	Offset *int   `parser:"( ',' @Int )? ')'"`
}

// Path tokens run up to the closing paren or the offset comma; one level of
// nested parens is allowed for step alternatives such as (tbody|self::*).
var locatorLexer = lexer.MustSimple([]lexer.SimpleRule{
	{Name: "Keyword", Pattern: `after-node|node|char`},
	{Name: "Path", Pattern: `/(?:[^(),]|\([^()]*\))*`},
	{Name: "Int", Pattern: `[0-9]+`},
	{Name: "Punct", Pattern: `[(),]`},
	{Name: "Whitespace", Pattern: `\s+`},
})

var locatorParser = participle.MustBuild[locatorGrammar](
	participle.Lexer(locatorLexer),
	participle.Elide("Whitespace"),
)

// Parse parses a locator string.
func Parse(s string) (*Locator, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, fmt.Errorf("%w: empty locator", ErrSyntax)
	}

	parsed, err := locatorParser.ParseString("", s)
	if err != nil {
		return nil, fmt.Errorf("%w: %q: %v", ErrSyntax, s, err)
	}

	loc := &Locator{Kind: Kind(parsed.Kind), XPath: strings.TrimSpace(parsed.XPath)}
	switch loc.Kind {
	case KindChar:
		if parsed.Offset == nil {
			return nil, fmt.Errorf("%w: %q: char locator needs an offset", ErrSyntax, s)
		}
		loc.Offset = *parsed.Offset
	default:
		if parsed.Offset != nil {
			return nil, fmt.Errorf("%w: %q: %s locator takes no offset", ErrSyntax, s, loc.Kind)
		}
	}
	return loc, nil
}

// Node returns a locator for the point before the node at xpath.
func Node(xpath string) Locator { return Locator{Kind: KindNode, XPath: xpath} }

// AfterNode returns a locator for the point after the node at xpath.
func AfterNode(xpath string) Locator { return Locator{Kind: KindAfterNode, XPath: xpath} }

// Char returns a locator n characters into the text of the node at xpath.
// A zero offset is written as a node locator.
func Char(xpath string, n int) Locator {
	if n == 0 {
		return Node(xpath)
	}
	return Locator{Kind: KindChar, XPath: xpath, Offset: n}
}

// String renders the locator in the form Parse accepts.
func (l Locator) String() string {
	if l.Kind == KindChar {
		return string(l.Kind) + "(" + l.XPath + "," + strconv.Itoa(l.Offset) + ")"
	}
	return string(l.Kind) + "(" + l.XPath + ")"
}
