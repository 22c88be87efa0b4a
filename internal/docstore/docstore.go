// Package docstore defines the remote document store the community features
// are built on: ordered live snapshots, document CRUD, and atomic
// read-modify-write transactions with retry-on-conflict.
package docstore

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrTxRetryExhausted is returned when a transaction cannot commit after the
// store's bounded conflict retries.
var ErrTxRetryExhausted = errors.New("transaction retries exhausted")

// Doc is a single document: an opaque ID plus schemaless fields.
type Doc struct {
	ID   string
	Data map[string]any
}

// Snapshot is the complete, point-in-time result set for a streamed
// collection. It replaces any prior result set held by the subscriber.
type Snapshot struct {
	Docs []Doc
}

// Order describes the field a streamed collection is sorted by.
type Order struct {
	Field      string
	Descending bool
}

type serverTimestamp struct{}

// ServerTimestamp is a sentinel field value replaced with the store's clock at
// write time.
var ServerTimestamp = serverTimestamp{}

// Tx is the handle passed to a transaction closure. Reads see committed state;
// writes are buffered and applied atomically on commit.
type Tx interface {
	Get(path string) (Doc, bool, error)
	Set(path string, data map[string]any)
	Update(path string, fields map[string]any) error
	Delete(path string)
}

// Store is the black-box remote document store surface.
type Store interface {
	// Create adds a document with a generated ID and returns it.
	Create(ctx context.Context, collection string, data map[string]any) (string, error)
	// Get fetches one document by path ("posts/<id>"). The boolean reports
	// existence; a missing document is not an error.
	Get(ctx context.Context, path string) (Doc, bool, error)
	// Delete removes one document. Deleting a missing document is a no-op.
	Delete(ctx context.Context, path string) error
	// DeleteCollection removes every document in a collection.
	DeleteCollection(ctx context.Context, collection string) error
	// ListIDs returns the IDs of every document in a collection, unordered.
	ListIDs(ctx context.Context, collection string) ([]string, error)
	// RunTransaction executes fn with all-or-nothing commit semantics,
	// retrying on conflict. watchPaths lists the documents the closure reads
	// so concurrent writers are detected.
	RunTransaction(ctx context.Context, fn func(tx Tx) error, watchPaths ...string) error
	// Stream subscribes to a collection, delivering the full ordered result
	// set on every change. limit > 0 keeps only the trailing N documents of
	// the ordered result.
	Stream(ctx context.Context, collection string, order Order, limit int) (*Subscription, error)
}

// Subscription is a live stream of collection snapshots. Read errors surface
// on Errs and leave the previous snapshot in place; the stream stays up.
type Subscription struct {
	snapshots chan Snapshot
	errs      chan error
	cancel    context.CancelFunc
	once      sync.Once
}

// Snapshots delivers complete result sets, newest state last. The channel is
// closed after Cancel.
func (s *Subscription) Snapshots() <-chan Snapshot { return s.snapshots }

// Errs carries stream read failures. The subscription is not torn down on
// error.
func (s *Subscription) Errs() <-chan error { return s.errs }

// Cancel stops the stream and releases its resources. Safe to call twice.
func (s *Subscription) Cancel() { s.once.Do(s.cancel) }

// StringField reads a string field, tolerating missing or mistyped values.
func (d Doc) StringField(key, fallback string) string {
	if v, ok := d.Data[key].(string); ok {
		return v
	}
	return fallback
}

// IntField reads a numeric field. JSON decoding yields float64; both shapes
// are accepted.
func (d Doc) IntField(key string) int {
	switch v := d.Data[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	}
	return 0
}

// TimeField reads a timestamp field stored in RFC 3339 form.
func (d Doc) TimeField(key string) time.Time {
	if v, ok := d.Data[key].(string); ok {
		if t, err := time.Parse(time.RFC3339Nano, v); err == nil {
			return t
		}
	}
	return time.Time{}
}
