package docstore

import (
	"context"
	"testing"
	"time"
)

func TestMemoryStoreCreateAndReadOne(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	id, err := store.Create(ctx, "comments", Document{
		Data: map[string]any{"text": "hello", "createdAt": FormatTime(time.Now())},
		Sets: map[string][]string{"reactions": nil},
	})
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if id == "" {
		t.Fatal("Create() returned empty id")
	}

	doc, err := store.ReadOne(ctx, "comments", id)
	if err != nil {
		t.Fatalf("ReadOne() error = %v", err)
	}
	if doc.Data["text"] != "hello" {
		t.Fatalf("unexpected text: %v", doc.Data["text"])
	}

	if _, err := store.ReadOne(ctx, "comments", "missing"); err != ErrNotFound {
		t.Fatalf("ReadOne(missing) error = %v, want ErrNotFound", err)
	}
}

func TestMemoryStoreOrderedRead(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	var ids []string
	for i := 0; i < 3; i++ {
		id, err := store.Create(ctx, "comments", Document{
			Data: map[string]any{"createdAt": FormatTime(base.Add(time.Duration(i) * time.Minute))},
		})
		if err != nil {
			t.Fatalf("Create() error = %v", err)
		}
		ids = append(ids, id)
	}

	docs, err := store.Read(ctx, Query{Collection: "comments", OrderBy: "createdAt", Direction: Descending})
	if err != nil {
		t.Fatalf("Read() error = %v", err)
	}
	if len(docs) != 3 {
		t.Fatalf("Read() returned %d docs, want 3", len(docs))
	}
	if docs[0].ID != ids[2] || docs[2].ID != ids[0] {
		t.Fatalf("unexpected order: %s %s %s", docs[0].ID, docs[1].ID, docs[2].ID)
	}
}

func TestMemoryStoreSetField(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	id, err := store.Create(ctx, "comments", Document{Data: map[string]any{"text": "x"}})
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	if err := store.UpdateSetField(ctx, "comments", id, "reactions", SetAdd, "u1"); err != nil {
		t.Fatalf("UpdateSetField(add) error = %v", err)
	}
	// Adding the same member twice keeps the set unchanged.
	if err := store.UpdateSetField(ctx, "comments", id, "reactions", SetAdd, "u1"); err != nil {
		t.Fatalf("UpdateSetField(add again) error = %v", err)
	}
	doc, err := store.ReadOne(ctx, "comments", id)
	if err != nil {
		t.Fatalf("ReadOne() error = %v", err)
	}
	if got := doc.Set("reactions"); len(got) != 1 || got[0] != "u1" {
		t.Fatalf("unexpected reactions: %v", got)
	}

	if err := store.UpdateSetField(ctx, "comments", id, "reactions", SetRemove, "u1"); err != nil {
		t.Fatalf("UpdateSetField(remove) error = %v", err)
	}
	doc, _ = store.ReadOne(ctx, "comments", id)
	if got := doc.Set("reactions"); len(got) != 0 {
		t.Fatalf("reactions not removed: %v", got)
	}

	if err := store.UpdateSetField(ctx, "comments", "missing", "reactions", SetAdd, "u1"); err != ErrNotFound {
		t.Fatalf("UpdateSetField(missing) error = %v, want ErrNotFound", err)
	}
}

func TestMemoryStoreAppendToArray(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	id, err := store.Create(ctx, "comments", Document{Data: map[string]any{"replies": []any{}}})
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if err := store.AppendToArray(ctx, "comments", id, "replies", map[string]any{"id": "r1"}); err != nil {
		t.Fatalf("AppendToArray() error = %v", err)
	}
	if err := store.AppendToArray(ctx, "comments", id, "replies", map[string]any{"id": "r2"}); err != nil {
		t.Fatalf("AppendToArray() error = %v", err)
	}

	doc, err := store.ReadOne(ctx, "comments", id)
	if err != nil {
		t.Fatalf("ReadOne() error = %v", err)
	}
	replies, ok := doc.Data["replies"].([]any)
	if !ok || len(replies) != 2 {
		t.Fatalf("unexpected replies: %v", doc.Data["replies"])
	}
	first, _ := replies[0].(map[string]any)
	second, _ := replies[1].(map[string]any)
	if first["id"] != "r1" || second["id"] != "r2" {
		t.Fatalf("append order lost: %v then %v", first["id"], second["id"])
	}
}

func TestMemoryStoreSubscribeDeliversSnapshots(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	sub, err := store.Subscribe(ctx, Query{Collection: "comments", OrderBy: "createdAt", Direction: Descending})
	if err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}
	defer sub.Unsubscribe()

	select {
	case snap := <-sub.Snapshots():
		if len(snap) != 0 {
			t.Fatalf("initial snapshot has %d docs, want 0", len(snap))
		}
	case <-time.After(time.Second):
		t.Fatal("no initial snapshot")
	}

	if _, err := store.Create(ctx, "comments", Document{
		Data: map[string]any{"createdAt": FormatTime(time.Now())},
	}); err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	select {
	case snap := <-sub.Snapshots():
		if len(snap) != 1 {
			t.Fatalf("snapshot has %d docs, want 1", len(snap))
		}
	case <-time.After(time.Second):
		t.Fatal("no snapshot after create")
	}
}

func TestMemoryStoreUnsubscribeClosesChannel(t *testing.T) {
	store := NewMemoryStore()
	sub, err := store.Subscribe(context.Background(), Query{Collection: "comments", OrderBy: "createdAt"})
	if err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}
	sub.Unsubscribe()
	sub.Unsubscribe()

	for {
		select {
		case _, ok := <-sub.Snapshots():
			if !ok {
				return
			}
		case <-time.After(time.Second):
			t.Fatal("channel not closed after Unsubscribe")
		}
	}
}

func TestMemoryStoreCloseRejectsNewSubscriptions(t *testing.T) {
	store := NewMemoryStore()
	sub, err := store.Subscribe(context.Background(), Query{Collection: "comments", OrderBy: "createdAt"})
	if err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	select {
	case _, ok := <-sub.Snapshots():
		if ok {
			// Initial snapshot may still be buffered; the close follows.
			if _, ok := <-sub.Snapshots(); ok {
				t.Fatal("subscription still live after Close")
			}
		}
	case <-time.After(time.Second):
		t.Fatal("subscription channel not closed by Close")
	}

	if _, err := store.Subscribe(context.Background(), Query{Collection: "comments", OrderBy: "createdAt"}); err == nil {
		t.Fatal("Subscribe() after Close should fail")
	}
}

func TestParseTimeRoundTrip(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 987654321, time.UTC)
	encoded := FormatTime(now)
	decoded, ok := ParseTime(encoded)
	if !ok {
		t.Fatalf("ParseTime(%q) not ok", encoded)
	}
	if !decoded.Equal(now) {
		t.Fatalf("round trip mismatch: %v != %v", decoded, now)
	}
	if _, ok := ParseTime(42); ok {
		t.Fatal("ParseTime(42) should not parse")
	}
}

func TestFormatTimeLexicographicOrder(t *testing.T) {
	earlier := FormatTime(time.Date(2026, 3, 1, 12, 0, 0, 5, time.UTC))
	later := FormatTime(time.Date(2026, 3, 1, 12, 0, 0, 50, time.UTC))
	if !(earlier < later) {
		t.Fatalf("lexicographic order broken: %q >= %q", earlier, later)
	}
}
