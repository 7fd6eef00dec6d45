package thread

import (
	"context"
	"fmt"
	"sync"

	"threadboard/internal/docstore"
)

// Sort selects the thread view: newest first, or most reactions first.
type Sort string

const (
	ByLatest  Sort = "latest"
	ByPopular Sort = "popular"
)

// Query returns the store-side ordered query for a sort mode. Popularity can
// only be pre-sorted by the persisted scalar mirror, ascending, as a best
// effort; Order applies the authoritative client-side sort.
func (s Sort) Query(collection string) docstore.Query {
	if s == ByPopular {
		return docstore.Query{Collection: collection, OrderBy: FieldReactionCount, Direction: docstore.Ascending}
	}
	return docstore.Query{Collection: collection, OrderBy: FieldCreatedAt, Direction: docstore.Descending}
}

// Order applies the client-side comparator for the mode.
func (s Sort) Order(comments []Comment) {
	if s == ByPopular {
		SortMostReacted(comments)
		return
	}
	SortNewestFirst(comments)
}

func ParseSort(v string) (Sort, error) {
	switch Sort(v) {
	case ByLatest, "":
		return ByLatest, nil
	case ByPopular:
		return ByPopular, nil
	}
	return "", fmt.Errorf("unknown sort %q", v)
}

// Watcher owns at most one live store subscription and turns each snapshot
// delivery into a fully rebuilt, sorted thread. Switching sort tears down
// the old subscription before opening the new query, so nothing leaks across
// mode changes. Deliveries are applied in arrival order and each one
// replaces the previous state wholesale.
type Watcher struct {
	store      docstore.Store
	collection string
	onSnapshot func([]Comment)

	mu  sync.Mutex
	sub docstore.Subscription
	gen int

	// deliverMu makes the generation check and the callback one atomic
	// step, so a replaced subscription's goroutine can never deliver a
	// stale snapshot after the new subscription has delivered.
	deliverMu sync.Mutex
}

func NewWatcher(store docstore.Store, collection string, onSnapshot func([]Comment)) *Watcher {
	return &Watcher{store: store, collection: collection, onSnapshot: onSnapshot}
}

// SetSort replaces the active subscription with one for the given mode.
func (w *Watcher) SetSort(ctx context.Context, mode Sort) error {
	sub, err := w.store.Subscribe(ctx, mode.Query(w.collection))
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", mode, err)
	}

	w.mu.Lock()
	if w.sub != nil {
		w.sub.Unsubscribe()
	}
	w.sub = sub
	w.gen++
	gen := w.gen
	w.mu.Unlock()

	go w.consume(gen, mode, sub)
	return nil
}

// Close tears down the active subscription. The watcher is unusable after.
func (w *Watcher) Close() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.sub != nil {
		w.sub.Unsubscribe()
		w.sub = nil
	}
	w.gen++
}

func (w *Watcher) consume(gen int, mode Sort, sub docstore.Subscription) {
	for snapshot := range sub.Snapshots() {
		comments := FromDocuments(snapshot)
		mode.Order(comments)
		// A replaced subscription may still flush a final snapshot; the
		// delivery lock pairs the staleness check with the callback so a
		// stale generation cannot slip in after a newer delivery.
		w.deliverMu.Lock()
		w.mu.Lock()
		current := gen == w.gen
		w.mu.Unlock()
		if current {
			w.onSnapshot(comments)
		}
		w.deliverMu.Unlock()
		if !current {
			return
		}
	}
}
