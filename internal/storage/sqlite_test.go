package storage

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"testing"

	"annotize/internal/annotation"
	"annotize/internal/selector"
	"annotize/internal/session"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	store, err := NewSQLiteStore(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func testSession(t *testing.T, source string, bodyTypes ...string) *session.Session {
	t.Helper()
	s := session.New(source, nil, session.Options{})
	for _, bt := range bodyTypes {
		body, err := json.Marshal(map[string]string{"type": bt})
		require.NoError(t, err)
		_, err = s.Annotate(body, "alice", selector.NewPath("node(/html/body/p[1])", "after-node(/html/body/p[1])"))
		require.NoError(t, err)
	}
	return s
}

func TestSQLiteStore_SaveSession_SnapshotSync(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	s := testSession(t, "doc-a", "SimpleTag", "Comment")
	require.NoError(t, store.SaveSession(ctx, s))

	// New snapshot: one annotation removed.
	first := s.Annotations.All()[0]
	require.True(t, s.RemoveAnnotation(first.ID))
	require.NoError(t, store.SaveSession(ctx, s))

	doc, err := store.LoadDocument(ctx, "doc-a")
	require.NoError(t, err)
	assert.Equal(t, 1, doc.AnnotationCount)
	assert.Equal(t, Hash(doc.Content), doc.ContentHash)
	assert.False(t, doc.UpdatedAt.IsZero())

	expected, err := s.Export()
	require.NoError(t, err)
	assert.JSONEq(t, string(expected), string(doc.Content))

	records, err := store.FindAnnotationsByBodyType(ctx, annotation.All)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "Comment", records[0].BodyType)
	assert.Equal(t, "alice", records[0].Creator)
}

func TestSQLiteStore_LoadDocument_RestoresSession(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	s := testSession(t, "doc-a", "SimpleTag")
	require.NoError(t, store.SaveSession(ctx, s))

	doc, err := store.LoadDocument(ctx, "doc-a")
	require.NoError(t, err)

	restored := session.New("doc-a", nil, session.Options{})
	report, err := restored.Import(doc.Content)
	require.NoError(t, err)
	require.NoError(t, report.Err())
	assert.Equal(t, 1, restored.Annotations.Len())
}

func TestSQLiteStore_FindAnnotationsByBodyType(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.SaveSession(ctx, testSession(t, "doc-a", "SimpleTag", "Comment")))
	require.NoError(t, store.SaveSession(ctx, testSession(t, "doc-b", "SimpleTag")))

	tags, err := store.FindAnnotationsByBodyType(ctx, "SimpleTag")
	require.NoError(t, err)
	require.Len(t, tags, 2)
	assert.Equal(t, "doc-a", tags[0].Source)
	assert.Equal(t, "doc-b", tags[1].Source)

	none, err := store.FindAnnotationsByBodyType(ctx, "IdentifierDeclaration")
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestSQLiteStore_ListAndDelete(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.SaveSession(ctx, testSession(t, "doc-b", "SimpleTag")))
	require.NoError(t, store.SaveSession(ctx, testSession(t, "doc-a")))

	docs, err := store.ListDocuments(ctx)
	require.NoError(t, err)
	require.Len(t, docs, 2)
	assert.Equal(t, "doc-a", docs[0].Source)
	assert.Equal(t, 0, docs[0].AnnotationCount)
	assert.Nil(t, docs[0].Content)

	deleted, err := store.DeleteDocument(ctx, "doc-b")
	require.NoError(t, err)
	assert.True(t, deleted)

	deleted, err = store.DeleteDocument(ctx, "doc-b")
	require.NoError(t, err)
	assert.False(t, deleted)

	records, err := store.FindAnnotationsByBodyType(ctx, annotation.All)
	require.NoError(t, err)
	assert.Empty(t, records)

	_, err = store.LoadDocument(ctx, "doc-b")
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestSQLiteStore_LoadDocument_DetectsCorruption(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.SaveSession(ctx, testSession(t, "doc-a", "SimpleTag")))
	_, err := store.db.ExecContext(ctx, "UPDATE documents SET content_hash = 'beef' WHERE source = 'doc-a'")
	require.NoError(t, err)

	_, err = store.LoadDocument(ctx, "doc-a")
	assert.True(t, errors.Is(err, ErrCorrupt))
}

func TestCompress(t *testing.T) {
	data := []byte(`[{"type":"Annotation","id":"a1"}]`)
	packed, err := Compress(data)
	require.NoError(t, err)

	out, err := Decompress(packed)
	require.NoError(t, err)
	assert.Equal(t, data, out)

	_, err = Decompress(data)
	assert.Error(t, err)

	assert.Len(t, Hash(data), 64)
	assert.NotEqual(t, Hash(data), Hash(packed))
}

func TestSQLiteStore_FindAnnotations_ByValue(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	tagged := func(source string, tags ...string) *session.Session {
		s := session.New(source, nil, session.Options{})
		for _, tag := range tags {
			body, err := json.Marshal(map[string]any{"type": "SimpleTag", "tag": tag, "aliases": []string{tag + "s"}})
			require.NoError(t, err)
			_, err = s.Annotate(body, "alice", selector.NewPath("node(/html/body/p[1])", "after-node(/html/body/p[1])"))
			require.NoError(t, err)
		}
		return s
	}
	a := tagged("doc-a", "noun", "verb")
	b := tagged("doc-b", "noun")
	require.NoError(t, store.SaveSession(ctx, a))
	require.NoError(t, store.SaveSession(ctx, b))

	nouns, err := store.FindAnnotations(ctx, annotation.Filter{BodyType: "SimpleTag", Value: "noun"})
	require.NoError(t, err)
	require.Len(t, nouns, 2)
	assert.Equal(t, a.Annotations.All()[0].ID, nouns[0].ID)
	assert.Equal(t, b.Annotations.All()[0].ID, nouns[1].ID)

	verbs, err := store.FindAnnotations(ctx, annotation.Filter{BodyType: "SimpleTag", Value: "verbs"})
	require.NoError(t, err)
	require.Len(t, verbs, 1)
	assert.Equal(t, a.Annotations.All()[1].ID, verbs[0].ID)

	all, err := store.FindAnnotations(ctx, annotation.Filter{BodyType: "SimpleTag", Value: annotation.All})
	require.NoError(t, err)
	assert.Len(t, all, 3)

	none, err := store.FindAnnotations(ctx, annotation.Filter{BodyType: "Comment", Value: "noun"})
	require.NoError(t, err)
	assert.Empty(t, none)
}
