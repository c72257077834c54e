package storage

import (
	"context"
	"errors"
	"time"

	"annotize/internal/annotation"
	"annotize/internal/session"
)

var (
	ErrNotFound = errors.New("document not found")
	ErrCorrupt  = errors.New("stored document does not match its hash")
)

// Store combines document and annotation index storage.
type Store interface {
	DocumentStore
	AnnotationIndex
	Close() error
}

// DocumentStore persists exported annotation documents, one per source.
type DocumentStore interface {
	// SaveSession replaces the stored document of the session's source.
	SaveSession(ctx context.Context, s *session.Session) error

	// LoadDocument returns the exported document stored for source.
	LoadDocument(ctx context.Context, source string) (*Document, error)

	// ListDocuments returns every stored document without its content.
	ListDocuments(ctx context.Context) ([]*Document, error)

	// DeleteDocument removes a document and its index rows.
	DeleteDocument(ctx context.Context, source string) (bool, error)
}

// AnnotationIndex answers queries over the annotations of all documents.
type AnnotationIndex interface {
	// FindAnnotationsByBodyType lists annotations whose body has the given
	// type; annotation.All matches every annotation.
	FindAnnotationsByBodyType(ctx context.Context, bodyType string) ([]*AnnotationRecord, error)

	// FindAnnotations lists annotations matching a body type and body value.
	FindAnnotations(ctx context.Context, f annotation.Filter) ([]*AnnotationRecord, error)
}

// Document is one stored exchange document.
type Document struct {
	Source          string
	Content         []byte
	ContentHash     string
	AnnotationCount int
	UpdatedAt       time.Time
}

// AnnotationRecord is the index row of one annotation.
type AnnotationRecord struct {
	Source   string
	ID       string
	TargetID string
	BodyType string
	Creator  string
}
