package session

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"annotize/internal/annotation"
	"annotize/internal/docview"
	"annotize/internal/exchange"
	"annotize/internal/identifier"
	"annotize/internal/selector"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const source = "https://example.org/doc.html"

// "Hello world" [0,11) "Second " [11,18) "bold" [18,22) " text" [22,27)
const page = `<html><body><p>Hello world</p><p>Second <b>bold</b> text</p></body></html>`

var tagBody = json.RawMessage(`{"type":"SimpleTag","tag":"noun"}`)

func withView(t *testing.T) *Session {
	t.Helper()
	v, err := docview.Load(strings.NewReader(page))
	require.NoError(t, err)
	return New(source, v, Options{})
}

func path(start, end string) *selector.Path { return selector.NewPath(start, end) }

func TestSession_Annotate(t *testing.T) {
	s := withView(t)

	a, err := s.Annotate(tagBody, "alice", path("char(/html/body/p[1],6)", "after-node(/html/body/p[1])"))
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(a.ID, source+"#annotation."))

	tg, err := s.Target(a.ID)
	require.NoError(t, err)
	assert.Equal(t, a.TargetID, tg.ID())
	assert.Equal(t, source, tg.Source())
	assert.Equal(t, &selector.Offset{Start: 6, End: 11}, tg.OffsetSelector())

	q, err := s.Quote(a.ID)
	require.NoError(t, err)
	assert.Equal(t, "world", q)

	_, err = s.Annotate(tagBody, "alice")
	assert.True(t, errors.Is(err, ErrNoRange))
	_, err = s.Annotate(json.RawMessage(`{"tag":"x"}`), "alice", path("node(/html/body/p[1])", "after-node(/html/body/p[1])"))
	assert.True(t, errors.Is(err, annotation.ErrInvalid))
	assert.Equal(t, 1, s.Annotations.Len())
}

func TestSession_Annotate_Discontinuous(t *testing.T) {
	s := withView(t)

	a, err := s.Annotate(tagBody, "alice",
		path("node(/html/body/p[2]/b)", "after-node(/html/body/p[2]/b)"),
		path("node(/html/body/p[1])", "char(/html/body/p[1],5)"),
	)
	require.NoError(t, err)

	tg, err := s.Target(a.ID)
	require.NoError(t, err)
	d, ok := tg.PathSelector().(*selector.DiscontinuousPath)
	require.True(t, ok)
	assert.Equal(t, 2, d.List().Len())
	assert.Equal(t, "node(/html/body/p[1])", d.StartPath())
	assert.Equal(t, &selector.Offset{Start: 0, End: 22}, tg.OffsetSelector())
}

func TestSession_AddDiscontinuity(t *testing.T) {
	s := withView(t)
	a, err := s.Annotate(tagBody, "alice", path("node(/html/body/p[1])", "char(/html/body/p[1],5)"))
	require.NoError(t, err)
	oldTarget := a.TargetID

	tg, err := s.AddDiscontinuity(a.ID, path("node(/html/body/p[2]/b)", "after-node(/html/body/p[2]/b)"))
	require.NoError(t, err)
	assert.NotEqual(t, oldTarget, tg.ID())
	assert.Equal(t, tg.ID(), a.TargetID)

	d := tg.PathSelector().(*selector.DiscontinuousPath)
	require.Equal(t, 2, d.List().Len())

	// overlapping the first range merges into it
	tg, err = s.AddDiscontinuity(a.ID, path("char(/html/body/p[1],3)", "char(/html/body/p[1],8)"))
	require.NoError(t, err)
	d = tg.PathSelector().(*selector.DiscontinuousPath)
	require.Equal(t, 2, d.List().Len())
	assert.Equal(t, selector.Range{Start: "node(/html/body/p[1])", End: "char(/html/body/p[1],8)"}, d.List().At(0).Range())

	data, err := s.Export()
	require.NoError(t, err)
	assert.NotContains(t, string(data), oldTarget)

	_, err = s.AddDiscontinuity(a.ID, path("node(/html/body/p[9])", "after-node(/html/body/p[9])"))
	assert.Error(t, err)
	assert.Equal(t, tg.ID(), a.TargetID, "failed insert keeps the target")
}

func TestSession_SetOffsets(t *testing.T) {
	s := New(source, nil, Options{})
	a, err := s.Annotate(tagBody, "alice", path("node(/html/body/p[1])", "after-node(/html/body/p[1])"))
	require.NoError(t, err)

	tg, _ := s.Target(a.ID)
	assert.False(t, tg.HasOffsetSelector(), "no document to derive offsets from")

	require.NoError(t, s.SetOffsets(a.ID, 0, 11))
	assert.Equal(t, &selector.Offset{Start: 0, End: 11}, tg.OffsetSelector())
	assert.Error(t, s.SetOffsets(a.ID, 5, 1))
	assert.Error(t, s.SetOffsets("nope", 0, 1))

	_, err = s.Quote(a.ID)
	assert.True(t, errors.Is(err, ErrNoDocument))
}

func TestSession_Identifiers(t *testing.T) {
	s := withView(t)
	x := s.NewIdentifier("greeting")

	occ, err := s.Occur(x.ID(), "bob", path("node(/html/body/p[2]/b)", "after-node(/html/body/p[2]/b)"))
	require.NoError(t, err)

	var notified []string
	x.Occurrences()[0].OnDeclarationChange(func(id string, declared bool) {
		if declared {
			notified = append(notified, id)
		} else {
			notified = append(notified, "-")
		}
	})

	decl, err := s.Declare(x.ID(), "tag.positive", "alice", path("node(/html/body/p[1])", "char(/html/body/p[1],5)"))
	require.NoError(t, err)
	got, ok := x.DeclaringAnnotation()
	require.True(t, ok)
	assert.Equal(t, decl.ID, got)

	require.True(t, s.RemoveAnnotation(decl.ID))
	assert.False(t, x.HasDeclaration())
	assert.Equal(t, []string{decl.ID, "-"}, notified)

	require.True(t, s.RemoveAnnotation(occ.ID))
	assert.True(t, x.Empty())
	assert.False(t, s.RemoveAnnotation(occ.ID))

	_, err = s.Declare("unknown", "tag", "alice", path("node(/html/body/p[1])", "after-node(/html/body/p[1])"))
	assert.True(t, errors.Is(err, identifier.ErrNotFound))
}

func TestSession_LinkAndRemove(t *testing.T) {
	s := New(source, nil, Options{})
	a, err := s.Annotate(tagBody, "alice", path("node(/html/body/p[1])", "after-node(/html/body/p[1])"))
	require.NoError(t, err)
	b, err := s.Annotate(tagBody, "alice", path("node(/html/body/p[2])", "after-node(/html/body/p[2])"))
	require.NoError(t, err)

	r, err := s.Link(a.ID, b.ID, "source of grounding", false)
	require.NoError(t, err)
	assert.True(t, r.Complete())
	assert.Len(t, a.References(), 1)

	_, err = s.Link(a.ID, "ghost", "", false)
	assert.True(t, errors.Is(err, annotation.ErrNotFound))
	assert.Len(t, a.References(), 1, "failed link leaves no attachment")

	require.True(t, s.RemoveAnnotation(b.ID))
	assert.False(t, r.Complete(), "reference persists without its target")
	assert.Equal(t, a.ID, r.Source())

	assert.True(t, s.Unlink(r.ID()))
	assert.Empty(t, a.References())
	assert.Empty(t, s.References.All())
}

func TestSession_ExportImportRoundTrip(t *testing.T) {
	s := withView(t)
	_, err := s.Import([]byte(`[{"type":"TagSet","id":"ts1","tags":[{"type":"Tag","id":"tag"}]}]`))
	require.NoError(t, err)
	x := s.NewIdentifier("x")
	s.NewIdentifier("unused")
	decl, err := s.Declare(x.ID(), "tag", "alice", path("node(/html/body/p[1])", "char(/html/body/p[1],5)"))
	require.NoError(t, err)
	occ, err := s.Occur(x.ID(), "alice",
		path("char(/html/body/p[2],3)", "char(/html/body/p[2],5)"),
		path("node(/html/body/p[2]/b)", "after-node(/html/body/p[2]/b)"))
	require.NoError(t, err)
	_, err = s.Link(occ.ID, decl.ID, "", true)
	require.NoError(t, err)

	data, err := s.Export()
	require.NoError(t, err)

	doc, err := exchange.Decode(data)
	require.NoError(t, err)
	assert.Len(t, doc.Annotations, 2)
	assert.Len(t, doc.Targets, 2)
	assert.Len(t, doc.Identifiers, 1, "unused identifiers are not exported")
	assert.Len(t, doc.References, 1)
	require.Len(t, doc.Other, 1, "tag sets are carried along")
	assert.Equal(t, "ts1", doc.Other[0].ID)

	// replay without the document
	restored := New(source, nil, Options{})
	report, err := restored.Import(data)
	require.NoError(t, err)
	require.NoError(t, report.Err())
	assert.Equal(t, 2, report.Annotations)
	assert.Equal(t, 1, report.Identifiers)
	assert.Equal(t, 1, report.References)
	assert.Equal(t, 1, report.Other)

	rx, err := restored.Identifiers.Get(x.ID())
	require.NoError(t, err)
	got, _ := rx.DeclaringAnnotation()
	assert.Equal(t, decl.ID, got)
	require.Len(t, rx.Occurrences(), 1)
	assert.Equal(t, occ.ID, rx.Occurrences()[0].AnnotationID())

	again, err := restored.Export()
	require.NoError(t, err)
	assert.JSONEq(t, string(data), string(again))
}

func TestSession_Import_PartialFailure(t *testing.T) {
	doc := `[
		{"type":"Identifier","id":"i1","idString":"one"},
		{"type":"Identifier","id":"i1"},
		{"type":"Annotation","id":"a1","target":"t1","body":{"type":"IdentifierDeclaration","declares":"i1","hasPolarity":"tag"}},
		{"type":"Annotation","id":"a2","target":"t2","body":{"type":"IdentifierOccurrence","occurrenceOf":"i-unknown"}},
		{"type":"Annotation","id":"a3","target":"t-missing","body":{"type":"SimpleTag"}},
		{"type":"Annotation","id":"a1","target":"t4","body":{"type":"SimpleTag"}},
		{"type":"Annotation","id":"a5","target":"t5","body":{"type":"SimpleTag"}},
		{"type":"FragmentTarget","id":"t1","source":"` + source + `","selector":[{"type":"PathSelector","startPath":"node(/html/body/p[1])","endPath":"after-node(/html/body/p[1])"}]},
		{"type":"FragmentTarget","id":"t2","source":"` + source + `","selector":[{"type":"PathSelector","startPath":"node(/html/body/p[2])","endPath":"after-node(/html/body/p[2])"}]},
		{"type":"FragmentTarget","id":"t4","source":"` + source + `","selector":[{"type":"PathSelector","startPath":"node(/html/body/p[2])","endPath":"after-node(/html/body/p[2])"}]},
		{"type":"FragmentTarget","id":"t5","source":"` + source + `","selector":[{"type":"OffsetSelector","startPath":0,"endPath":4}]},
		{"type":"Reference","id":"r1","source":"a1","target":"a2"},
		{"type":"TagSet","id":"ts1"},
		{"type":"Annotation","target":"t1"}
	]`

	s := New(source, nil, Options{})
	report, err := s.Import([]byte(doc))
	require.NoError(t, err)

	assert.Equal(t, 1, report.Identifiers)
	assert.Equal(t, 1, report.Annotations)
	assert.Equal(t, 0, report.References)
	assert.Equal(t, 1, report.Other)

	failed := map[int]error{}
	for _, f := range report.Failures {
		failed[f.Index] = f.Err
	}
	require.Len(t, failed, 7)
	assert.True(t, errors.Is(failed[1], ErrDuplicate))
	assert.True(t, errors.Is(failed[3], identifier.ErrNotFound))
	assert.True(t, errors.Is(failed[4], ErrMissingTarget))
	assert.True(t, errors.Is(failed[5], ErrDuplicate))
	assert.Contains(t, failed[6].Error(), "no path selector")
	assert.True(t, errors.Is(failed[11], annotation.ErrNotFound))
	assert.Contains(t, failed, 13)
	assert.Error(t, report.Err())

	assert.True(t, s.Annotations.Has("a1"))
	assert.False(t, s.Annotations.Has("a2"))
}

func TestSession_Import_ImplicitIdentifiers(t *testing.T) {
	doc := `[
		{"type":"Annotation","id":"a2","target":"t2","body":{"type":"IdentifierOccurrence","occurrenceOf":"i-new"}},
		{"type":"FragmentTarget","id":"t2","source":"` + source + `","selector":[{"type":"PathSelector","startPath":"node(/html/body/p[2])","endPath":"after-node(/html/body/p[2])"}]}
	]`

	s := New(source, nil, Options{ImplicitIdentifiers: true})
	report, err := s.Import([]byte(doc))
	require.NoError(t, err)
	require.NoError(t, report.Err())

	i, err := s.Identifiers.Get("i-new")
	require.NoError(t, err)
	assert.Len(t, i.Occurrences(), 1)
}

func TestSession_Import_NotAnArray(t *testing.T) {
	_, err := New(source, nil, Options{}).Import([]byte(`{}`))
	assert.True(t, errors.Is(err, exchange.ErrMalformed))
}

func TestSession_Check(t *testing.T) {
	s := withView(t)
	_, err := s.Annotate(tagBody, "alice", path("char(/html/body/p[1],6)", "after-node(/html/body/p[1])"))
	require.NoError(t, err)

	restored := withView(t)
	data, err := s.Export()
	require.NoError(t, err)
	// a target pointing past the document still imports, and shows up in the check
	broken := strings.Replace(string(data), "char(/html/body/p[1],6)", "node(/html/body/p[7])", 1)
	_, err = restored.Import([]byte(broken))
	require.NoError(t, err)

	results, err := restored.Check()
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Error(t, results[0].Err)

	results, err = s.Check()
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "world", results[0].Quote)

	_, err = New(source, nil, Options{}).Check()
	assert.True(t, errors.Is(err, ErrNoDocument))
}

func TestSession_NoDocument_CannotOrderRanges(t *testing.T) {
	s := New(source, nil, Options{})

	_, err := s.Annotate(tagBody, "alice",
		path("char(/html/body/p[1],5)", "char(/html/body/p[1],10)"),
		path("char(/html/body/p[1],0)", "char(/html/body/p[1],7)"))
	assert.True(t, errors.Is(err, ErrNoDocument))
	assert.Equal(t, 0, s.Annotations.Len())

	a, err := s.Annotate(tagBody, "alice", path("char(/html/body/p[1],5)", "char(/html/body/p[1],10)"))
	require.NoError(t, err)
	_, err = s.AddDiscontinuity(a.ID, path("char(/html/body/p[1],0)", "char(/html/body/p[1],7)"))
	assert.True(t, errors.Is(err, ErrNoDocument))
	tg, _ := s.Target(a.ID)
	_, ok := tg.PathSelector().(*selector.Path)
	assert.True(t, ok, "target unchanged")
}

func TestSession_ConfiguredComparator(t *testing.T) {
	s := New(source, nil, Options{Comparator: selector.OffsetOrder})

	a, err := s.Annotate(tagBody, "alice", path("5", "10"), path("0", "7"))
	require.NoError(t, err)
	tg, err := s.Target(a.ID)
	require.NoError(t, err)
	d := tg.PathSelector().(*selector.DiscontinuousPath)
	require.Equal(t, 1, d.List().Len())
	assert.Equal(t, selector.Range{Start: "0", End: "10"}, d.Range())

	_, err = s.AddDiscontinuity(a.ID, path("20", "30"))
	require.NoError(t, err)
}

func TestSession_Annotate_CopiesRanges(t *testing.T) {
	s := withView(t)
	p := path("node(/html/body/p[1])", "after-node(/html/body/p[1])")
	a, err := s.Annotate(tagBody, "alice", p)
	require.NoError(t, err)

	p.EndPath = "after-node(/html/body/p[2])"
	tg, _ := s.Target(a.ID)
	assert.Equal(t, "after-node(/html/body/p[1])", tg.PathSelector().Range().End)
}

func TestSession_Redeclare_DemotesPreviousDeclaration(t *testing.T) {
	s := withView(t)
	x := s.NewIdentifier("x")

	first, err := s.Declare(x.ID(), "tag", "alice", path("node(/html/body/p[1])", "char(/html/body/p[1],5)"))
	require.NoError(t, err)
	second, err := s.Declare(x.ID(), "tag", "alice", path("node(/html/body/p[2]/b)", "after-node(/html/body/p[2]/b)"))
	require.NoError(t, err)

	got, _ := x.DeclaringAnnotation()
	assert.Equal(t, second.ID, got)
	require.Len(t, x.Occurrences(), 1)
	assert.Equal(t, first.ID, x.Occurrences()[0].AnnotationID())
	assert.Equal(t, identifier.TypeOccurrence, first.BodyType())
	assert.JSONEq(t, `{"type":"IdentifierOccurrence","occurrenceOf":"`+x.ID()+`"}`, string(first.Body))

	data, err := s.Export()
	require.NoError(t, err)
	restored := New(source, nil, Options{})
	report, err := restored.Import(data)
	require.NoError(t, err)
	require.NoError(t, report.Err())

	rx, err := restored.Identifiers.Get(x.ID())
	require.NoError(t, err)
	got, _ = rx.DeclaringAnnotation()
	assert.Equal(t, second.ID, got)
	require.Len(t, rx.Occurrences(), 1)
	assert.Equal(t, first.ID, rx.Occurrences()[0].AnnotationID())
}

func TestSession_Import_KeepsOtherElements(t *testing.T) {
	s := New(source, nil, Options{})
	_, err := s.Import([]byte(`[{"type":"TagSet","id":"ts1","tags":[]}]`))
	require.NoError(t, err)
	_, err = s.Import([]byte(`[{"type":"TagSet","id":"ts1","tags":[{"type":"Tag","id":"t"}]},{"type":"Tag","id":"t"}]`))
	require.NoError(t, err)

	data, err := s.Export()
	require.NoError(t, err)
	assert.JSONEq(t, `[
		{"type":"TagSet","id":"ts1","tags":[{"type":"Tag","id":"t"}]},
		{"type":"Tag","id":"t"}
	]`, string(data))
}
