package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"annotize/internal/annotation"
	"annotize/internal/exchange"
	"annotize/internal/logging"
	"annotize/internal/session"

	_ "github.com/mattn/go-sqlite3"
)

var _ Store = (*SQLiteStore)(nil)

type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates or opens a SQLite database.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, err
	}

	if err := db.Ping(); err != nil {
		return nil, err
	}

	s := &SQLiteStore{db: db}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to init schema: %w", err)
	}

	return s, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) initSchema() error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS documents (
			source TEXT PRIMARY KEY,
			content BLOB,
			content_hash TEXT,
			annotation_count INTEGER,
			updated_at DATETIME
		);`,
		`CREATE TABLE IF NOT EXISTS annotations (
			source TEXT,
			id TEXT,
			target_id TEXT,
			body_type TEXT,
			creator TEXT,
			PRIMARY KEY (source, id)
		);`,
		`CREATE INDEX IF NOT EXISTS idx_annotations_body_type ON annotations(body_type);`,
	}

	for _, q := range queries {
		if _, err := s.db.Exec(q); err != nil {
			return err
		}
	}
	return nil
}

// --- DocumentStore Implementation ---

func (s *SQLiteStore) SaveSession(ctx context.Context, sess *session.Session) error {
	content, err := sess.Export()
	if err != nil {
		return fmt.Errorf("failed to export %s: %w", sess.Source(), err)
	}
	packed, err := Compress(content)
	if err != nil {
		return err
	}
	annotations := sess.Annotations.All()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	// 1. Save Document
	_, err = tx.ExecContext(ctx, `
		INSERT INTO documents (source, content, content_hash, annotation_count, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(source) DO UPDATE SET
			content=excluded.content,
			content_hash=excluded.content_hash,
			annotation_count=excluded.annotation_count,
			updated_at=excluded.updated_at
	`, sess.Source(), packed, Hash(content), len(annotations), time.Now().UTC())
	if err != nil {
		return err
	}

	// 2. Replace the annotation index of this source
	if _, err := tx.ExecContext(ctx, "DELETE FROM annotations WHERE source = ?", sess.Source()); err != nil {
		return err
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO annotations (source, id, target_id, body_type, creator)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(source, id) DO UPDATE SET
			target_id=excluded.target_id,
			body_type=excluded.body_type,
			creator=excluded.creator
	`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, a := range annotations {
		if _, err := stmt.ExecContext(ctx, sess.Source(), a.ID, a.TargetID, a.BodyType(), a.Creator); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return err
	}
	logging.Debug("document saved", "source", sess.Source(), "annotations", len(annotations), "bytes", len(packed))
	return nil
}

func (s *SQLiteStore) LoadDocument(ctx context.Context, source string) (*Document, error) {
	row := s.db.QueryRowContext(ctx, "SELECT source, content, content_hash, annotation_count, updated_at FROM documents WHERE source = ?", source)

	var d Document
	var packed []byte
	if err := row.Scan(&d.Source, &packed, &d.ContentHash, &d.AnnotationCount, &d.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, source)
		}
		return nil, err
	}

	content, err := Decompress(packed)
	if err != nil {
		return nil, fmt.Errorf("document %s: %w", source, err)
	}
	if Hash(content) != d.ContentHash {
		return nil, fmt.Errorf("%w: %s", ErrCorrupt, source)
	}
	d.Content = content
	return &d, nil
}

func (s *SQLiteStore) ListDocuments(ctx context.Context) ([]*Document, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT source, content_hash, annotation_count, updated_at FROM documents ORDER BY source")
	if err != nil {
		return nil, fmt.Errorf("failed to query documents: %w", err)
	}
	defer rows.Close()

	var docs []*Document
	for rows.Next() {
		var d Document
		if err := rows.Scan(&d.Source, &d.ContentHash, &d.AnnotationCount, &d.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan document: %w", err)
		}
		docs = append(docs, &d)
	}
	return docs, rows.Err()
}

func (s *SQLiteStore) DeleteDocument(ctx context.Context, source string) (bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, err
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, "DELETE FROM documents WHERE source = ?", source)
	if err != nil {
		return false, err
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM annotations WHERE source = ?", source); err != nil {
		return false, err
	}
	if err := tx.Commit(); err != nil {
		return false, err
	}

	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// --- AnnotationIndex Implementation ---

func (s *SQLiteStore) FindAnnotationsByBodyType(ctx context.Context, bodyType string) ([]*AnnotationRecord, error) {
	query := "SELECT source, id, target_id, body_type, creator FROM annotations"
	var args []any
	if bodyType != annotation.All {
		query += " WHERE body_type = ?"
		args = append(args, bodyType)
	}
	query += " ORDER BY source, id"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []*AnnotationRecord
	for rows.Next() {
		var r AnnotationRecord
		if err := rows.Scan(&r.Source, &r.ID, &r.TargetID, &r.BodyType, &r.Creator); err != nil {
			return nil, err
		}
		records = append(records, &r)
	}
	return records, rows.Err()
}

// FindAnnotations lists the annotations f complies with. Body values are not
// indexed, so the documents holding candidates of the body type are decoded
// and filtered in memory.
func (s *SQLiteStore) FindAnnotations(ctx context.Context, f annotation.Filter) ([]*AnnotationRecord, error) {
	candidates, err := s.FindAnnotationsByBodyType(ctx, f.BodyType)
	if err != nil {
		return nil, err
	}
	if f.BodyType == annotation.All || f.Value == annotation.All {
		return candidates, nil
	}

	matches := make(map[string]map[string]bool)
	var records []*AnnotationRecord
	for _, r := range candidates {
		ids, ok := matches[r.Source]
		if !ok {
			ids, err = s.matchDocument(ctx, r.Source, f)
			if err != nil {
				return nil, err
			}
			matches[r.Source] = ids
		}
		if ids[r.ID] {
			records = append(records, r)
		}
	}
	return records, nil
}

func (s *SQLiteStore) matchDocument(ctx context.Context, source string, f annotation.Filter) (map[string]bool, error) {
	doc, err := s.LoadDocument(ctx, source)
	if err != nil {
		return nil, err
	}
	decoded, err := exchange.Decode(doc.Content)
	if err != nil {
		return nil, fmt.Errorf("document %s: %w", source, err)
	}

	store := annotation.NewStore()
	for _, e := range decoded.Annotations {
		a, err := annotation.Parse(e.Raw)
		if err != nil {
			logging.Warn("stored annotation unreadable", "source", source, "index", e.Index, "error", err)
			continue
		}
		if err := store.Add(a); err != nil {
			logging.Warn("stored annotation skipped", "source", source, "error", err)
		}
	}

	ids := make(map[string]bool)
	for _, a := range store.Filter(f) {
		ids[a.ID] = true
	}
	return ids, nil
}
