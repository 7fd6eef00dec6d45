package thread

import (
	"context"
	"sync"
	"testing"
	"time"

	"threadboard/internal/docstore"
	"threadboard/internal/identity"
)

func seedComment(t *testing.T, store docstore.Store, text string, createdAt time.Time) string {
	t.Helper()
	id, err := store.Create(context.Background(), "comments",
		EncodeDocument(identity.Author{ID: "u1", DisplayName: "Jo"}, text, createdAt))
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	return id
}

func awaitSnapshot(t *testing.T, ch <-chan []Comment) []Comment {
	t.Helper()
	select {
	case comments := <-ch:
		return comments
	case <-time.After(2 * time.Second):
		t.Fatal("no snapshot delivered")
		return nil
	}
}

func TestParseSort(t *testing.T) {
	if mode, err := ParseSort(""); err != nil || mode != ByLatest {
		t.Fatalf("ParseSort(\"\") = %v, %v", mode, err)
	}
	if mode, err := ParseSort("popular"); err != nil || mode != ByPopular {
		t.Fatalf("ParseSort(popular) = %v, %v", mode, err)
	}
	if _, err := ParseSort("bogus"); err == nil {
		t.Fatal("ParseSort(bogus) should fail")
	}
}

func TestWatcherDeliversOrderedSnapshots(t *testing.T) {
	store := docstore.NewMemoryStore()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	older := seedComment(t, store, "older", base)
	newer := seedComment(t, store, "newer", base.Add(time.Minute))

	snapshots := make(chan []Comment, 8)
	w := NewWatcher(store, "comments", func(comments []Comment) {
		snapshots <- comments
	})
	defer w.Close()

	if err := w.SetSort(context.Background(), ByLatest); err != nil {
		t.Fatalf("SetSort() error = %v", err)
	}

	comments := awaitSnapshot(t, snapshots)
	if len(comments) != 2 || comments[0].ID != newer || comments[1].ID != older {
		t.Fatalf("unexpected initial snapshot: %+v", comments)
	}

	latest := seedComment(t, store, "latest", base.Add(2*time.Minute))
	for {
		comments = awaitSnapshot(t, snapshots)
		if len(comments) == 3 {
			break
		}
	}
	if comments[0].ID != latest {
		t.Fatalf("new comment not first: %s", comments[0].ID)
	}
}

func TestWatcherSortSwitch(t *testing.T) {
	store := docstore.NewMemoryStore()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	plain := seedComment(t, store, "plain", base)
	liked := seedComment(t, store, "liked", base.Add(-time.Minute))

	ctx := context.Background()
	if err := store.UpdateSetField(ctx, "comments", liked, SetReactions, docstore.SetAdd, "u9"); err != nil {
		t.Fatalf("UpdateSetField() error = %v", err)
	}

	snapshots := make(chan []Comment, 8)
	w := NewWatcher(store, "comments", func(comments []Comment) {
		snapshots <- comments
	})
	defer w.Close()

	if err := w.SetSort(ctx, ByLatest); err != nil {
		t.Fatalf("SetSort(latest) error = %v", err)
	}
	comments := awaitSnapshot(t, snapshots)
	if comments[0].ID != plain {
		t.Fatalf("latest order wrong: %s first", comments[0].ID)
	}

	if err := w.SetSort(ctx, ByPopular); err != nil {
		t.Fatalf("SetSort(popular) error = %v", err)
	}
	// The replaced subscription may still deliver one stale snapshot's
	// callback before teardown; wait for the popular ordering.
	deadline := time.After(2 * time.Second)
	for {
		select {
		case comments = <-snapshots:
			if comments[0].ID == liked {
				return
			}
		case <-deadline:
			t.Fatalf("popular ordering never delivered, last: %+v", comments)
		}
	}
}

func TestWatcherNoStaleDeliveryAfterSortSwitch(t *testing.T) {
	store := docstore.NewMemoryStore()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	plain := seedComment(t, store, "plain", base.Add(time.Minute))
	liked := seedComment(t, store, "liked", base)

	ctx := context.Background()
	if err := store.UpdateSetField(ctx, "comments", liked, SetReactions, docstore.SetAdd, "u9"); err != nil {
		t.Fatalf("UpdateSetField() error = %v", err)
	}

	// Latest puts plain first, popular puts liked first, so a delivery's
	// generation is visible from its ordering. Rapid switches widen the
	// window in which a replaced subscription could deliver late.
	for round := 0; round < 20; round++ {
		var mu sync.Mutex
		var deliveries [][]Comment
		w := NewWatcher(store, "comments", func(comments []Comment) {
			mu.Lock()
			deliveries = append(deliveries, comments)
			mu.Unlock()
		})

		if err := w.SetSort(ctx, ByLatest); err != nil {
			t.Fatalf("SetSort(latest) error = %v", err)
		}
		if err := w.SetSort(ctx, ByPopular); err != nil {
			t.Fatalf("SetSort(popular) error = %v", err)
		}

		deadline := time.Now().Add(2 * time.Second)
		for {
			mu.Lock()
			n := len(deliveries)
			sawPopular := n > 0 && deliveries[n-1][0].ID == liked
			mu.Unlock()
			if sawPopular {
				break
			}
			if time.Now().After(deadline) {
				t.Fatalf("round %d: popular ordering never delivered", round)
			}
			time.Sleep(time.Millisecond)
		}

		// Give any straggler from the replaced subscription time to land.
		time.Sleep(10 * time.Millisecond)
		w.Close()

		mu.Lock()
		last := deliveries[len(deliveries)-1]
		mu.Unlock()
		if last[0].ID == plain {
			t.Fatalf("round %d: stale pre-switch snapshot delivered last", round)
		}
	}
}

func TestWatcherCloseStopsDeliveries(t *testing.T) {
	store := docstore.NewMemoryStore()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	seedComment(t, store, "one", base)

	snapshots := make(chan []Comment, 8)
	w := NewWatcher(store, "comments", func(comments []Comment) {
		snapshots <- comments
	})
	if err := w.SetSort(context.Background(), ByLatest); err != nil {
		t.Fatalf("SetSort() error = %v", err)
	}
	awaitSnapshot(t, snapshots)

	w.Close()
	seedComment(t, store, "two", base.Add(time.Minute))

	select {
	case comments := <-snapshots:
		t.Fatalf("delivery after Close: %+v", comments)
	case <-time.After(100 * time.Millisecond):
	}
}
