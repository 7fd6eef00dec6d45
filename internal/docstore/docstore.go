// Package docstore is the adapter contract for the remote schemaless document
// collection that holds comment threads. Each top-level comment is one document
// carrying its full reply subtree inline; the store supports ordered queries
// over a stored scalar field, atomic set-membership mutations, full-field
// overwrites and push-based snapshot subscriptions.
package docstore

import (
	"context"
	"errors"
	"time"
)

// TimeLayout is the canonical encoding for timestamps stored in document
// fields. Fixed-width nanoseconds keep lexicographic order equal to
// chronological order, which the ordered-query backends rely on.
const TimeLayout = "2006-01-02T15:04:05.000000000Z07:00"

var ErrNotFound = errors.New("document not found")

type SetOp string

const (
	SetAdd    SetOp = "add"
	SetRemove SetOp = "remove"
)

type Direction string

const (
	Ascending  Direction = "asc"
	Descending Direction = "desc"
)

// Document is one stored record: scalar/nested JSON fields in Data plus
// string-set fields in Sets. Sets are kept apart from the JSON body so the
// backends can mutate membership atomically.
type Document struct {
	ID   string
	Data map[string]any
	Sets map[string][]string
}

// Set returns the members of a set field, nil-safe.
func (d Document) Set(field string) []string {
	if d.Sets == nil {
		return nil
	}
	return d.Sets[field]
}

type Query struct {
	Collection string
	OrderBy    string
	Direction  Direction
}

// Subscription delivers full ordered snapshots of a query's results. Every
// delivery replaces the previous one; there is no incremental patching.
type Subscription interface {
	Snapshots() <-chan []Document
	Unsubscribe()
}

type Store interface {
	// Create stores a new document and returns its store-assigned id.
	Create(ctx context.Context, collection string, doc Document) (string, error)
	// ReadOne returns a single document or ErrNotFound.
	ReadOne(ctx context.Context, collection, id string) (Document, error)
	// Read runs an ordered query once.
	Read(ctx context.Context, q Query) ([]Document, error)
	// UpdateSetField atomically adds or removes one member of a set field.
	UpdateSetField(ctx context.Context, collection, id, field string, op SetOp, member string) error
	// UpdateField overwrites one field of the JSON body.
	UpdateField(ctx context.Context, collection, id, field string, value any) error
	// AppendToArray appends one value to an array field, preserving
	// insertion order. This is the union primitive used for depth-one
	// reply appends.
	AppendToArray(ctx context.Context, collection, id, field string, value any) error
	// Subscribe opens a snapshot stream for an ordered query. The first
	// snapshot is delivered without waiting for a mutation.
	Subscribe(ctx context.Context, q Query) (Subscription, error)
	Ping(ctx context.Context) error
	Close() error
}

// FormatTime encodes a timestamp for storage in a document field.
func FormatTime(t time.Time) string {
	return t.UTC().Format(TimeLayout)
}

// ParseTime decodes a stored timestamp; ok is false for non-time values.
func ParseTime(v any) (time.Time, bool) {
	s, isString := v.(string)
	if !isString {
		return time.Time{}, false
	}
	t, err := time.Parse(TimeLayout, s)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

// orderScore maps a field value onto a sortable float. Numbers map to
// themselves and stored timestamps to nanoseconds; anything else is not
// orderable and stays out of the index.
func orderScore(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	}
	if t, ok := ParseTime(v); ok {
		return float64(t.UnixNano()), true
	}
	return 0, false
}

// pushLatest replaces any undelivered snapshot with the newest one. Receivers
// only ever need the latest full state, so intermediate snapshots a slow
// consumer missed are dropped rather than queued.
func pushLatest(ch chan []Document, snap []Document) {
	for {
		select {
		case ch <- snap:
			return
		default:
		}
		select {
		case <-ch:
		default:
		}
	}
}

// cloneDocument deep-copies the parts callers are allowed to mutate.
func cloneDocument(d Document) Document {
	out := Document{ID: d.ID}
	if d.Data != nil {
		out.Data = cloneMap(d.Data)
	}
	if d.Sets != nil {
		out.Sets = make(map[string][]string, len(d.Sets))
		for k, v := range d.Sets {
			out.Sets[k] = append([]string(nil), v...)
		}
	}
	return out
}

func cloneMap(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return cloneMap(t)
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = cloneValue(e)
		}
		return out
	default:
		return v
	}
}
