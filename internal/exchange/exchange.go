// Package exchange reads and writes the JSON exchange document: a flat
// array of typed elements (annotations, fragment targets, identifiers,
// references and entries contributed by body plugins).
package exchange

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"annotize/internal/annotation"
	"annotize/internal/identifier"
	"annotize/internal/logging"
	"annotize/internal/reference"
	"annotize/internal/target"
)

var (
	ErrMalformed    = errors.New("malformed exchange document")
	ErrMissingField = errors.New("required field not found")
)

// Element is one undecoded entry of an exchange document.
type Element struct {
	Index int
	Type  string
	ID    string
	Raw   json.RawMessage
}

// Failure records an entry that could not be imported.
type Failure struct {
	Index int
	Type  string
	ID    string
	Err   error
}

func (f *Failure) Error() string {
	if f.ID == "" {
		return fmt.Sprintf("element %d (%s): %v", f.Index, f.Type, f.Err)
	}
	return fmt.Sprintf("element %d (%s %s): %v", f.Index, f.Type, f.ID, f.Err)
}

func (f *Failure) Unwrap() error { return f.Err }

// Fail returns a failure for e.
func (e Element) Fail(err error) *Failure {
	return &Failure{Index: e.Index, Type: e.Type, ID: e.ID, Err: err}
}

// Document is an exchange document grouped by element type.
type Document struct {
	Identifiers []Element
	Targets     []Element
	Annotations []Element
	References  []Element
	// Other holds elements of types handled elsewhere, e.g. tag sets.
	Other    []Element
	Failures []*Failure
}

// Target returns the fragment target element with the given id.
func (d *Document) Target(id string) (Element, bool) {
	for _, e := range d.Targets {
		if e.ID == id {
			return e, true
		}
	}
	return Element{}, false
}

// Decode splits an exchange document into its elements. Elements without a
// type or id are recorded as failures; the rest of the document is kept.
func Decode(data []byte) (*Document, error) {
	var raws []json.RawMessage
	if err := json.Unmarshal(data, &raws); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	doc := &Document{}
	for i, raw := range raws {
		var head struct {
			Type string `json:"type"`
			ID   string `json:"id"`
		}
		e := Element{Index: i, Raw: raw}
		if err := json.Unmarshal(raw, &head); err != nil {
			doc.Failures = append(doc.Failures, e.Fail(fmt.Errorf("%w: %v", ErrMalformed, err)))
			continue
		}
		e.Type, e.ID = head.Type, head.ID
		if e.Type == "" {
			doc.Failures = append(doc.Failures, e.Fail(fmt.Errorf("%w: 'type'", ErrMissingField)))
			continue
		}
		if e.ID == "" {
			doc.Failures = append(doc.Failures, e.Fail(fmt.Errorf("%w: 'id'", ErrMissingField)))
			continue
		}

		switch e.Type {
		case identifier.TypeIdentifier:
			doc.Identifiers = append(doc.Identifiers, e)
		case target.TypeName:
			doc.Targets = append(doc.Targets, e)
		case annotation.TypeName:
			doc.Annotations = append(doc.Annotations, e)
		case reference.TypeName:
			doc.References = append(doc.References, e)
		default:
			logging.Debug("exchange element handled elsewhere", "type", e.Type, "id", e.ID)
			doc.Other = append(doc.Other, e)
		}
	}
	return doc, nil
}

// Marshal writes elements as an exchange document.
func Marshal(elements []any) ([]byte, error) {
	var buf bytes.Buffer
	if err := Encode(&buf, elements); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Encode writes elements as an indented exchange document.
func Encode(w io.Writer, elements []any) error {
	if elements == nil {
		elements = []any{}
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", " ")
	return enc.Encode(elements)
}
