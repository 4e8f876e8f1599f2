// Package document defines source documents and their ingestion.
//
// A Document is the normalized plain-text form of one fetched source page.
// Documents are immutable once fetched; a re-fetch produces a new Document
// that supersedes the old one by source ID.
package document

import (
	"context"
	"errors"
	"time"
)

// ErrInvalidDocument indicates a document that is empty after normalization.
// Ingestion skips and logs such documents; it never aborts the whole run.
var ErrInvalidDocument = errors.New("invalid document: empty after normalization")

// Raw is what a source fetcher delivers: unprocessed page content keyed by
// its canonical URL.
type Raw struct {
	SourceID  string // canonical URL
	HTML      []byte
	FetchedAt time.Time
}

// Document is a normalized source document.
type Document struct {
	SourceID  string
	Title     string
	Text      string
	FetchedAt time.Time
}

// Fetcher supplies raw source documents. Implementations include the
// recursive site Crawler; tests use in-memory fakes.
type Fetcher interface {
	// Fetch streams raw documents to yield. Returning an error from yield
	// stops the fetch; fetch errors for individual pages are logged by the
	// implementation and do not abort the run.
	Fetch(ctx context.Context, yield func(Raw) error) error
}
