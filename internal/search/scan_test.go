package search

import (
	"context"
	"testing"
	"time"

	"threadboard/internal/docstore"
	"threadboard/internal/identity"
	"threadboard/internal/thread"
)

func seedThread(t *testing.T) (*Scan, string) {
	t.Helper()
	store := docstore.NewMemoryStore()
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	id, err := store.Create(ctx, "comments",
		thread.EncodeDocument(identity.Author{ID: "u1", DisplayName: "Jo"}, "<p>deploy went fine</p>", base))
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if _, err := store.Create(ctx, "comments",
		thread.EncodeDocument(identity.Author{ID: "u2", DisplayName: "Sam"}, "<p>rollback tomorrow</p>", base.Add(time.Minute))); err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	reply := thread.NewReply(identity.Author{ID: "u3", DisplayName: "Kim"}, "<p>deploy broke staging</p>", base.Add(2*time.Minute))
	if err := store.AppendToArray(ctx, "comments", id, thread.FieldReplies, thread.EncodeReply(reply)); err != nil {
		t.Fatalf("AppendToArray() error = %v", err)
	}

	return NewScan(store, "comments"), id
}

func TestScanMatchesTextAcrossTree(t *testing.T) {
	scan, commentID := seedThread(t)

	hits, total, err := scan.Search(context.Background(), Query{Text: "deploy"})
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if total != 2 || len(hits) != 2 {
		t.Fatalf("got %d hits (total %d), want 2", len(hits), total)
	}
	for _, hit := range hits {
		if hit.CommentID != commentID {
			t.Fatalf("hit outside expected thread: %+v", hit)
		}
	}
	var sawReply bool
	for _, hit := range hits {
		if hit.ReplyID != "" {
			sawReply = true
		}
	}
	if !sawReply {
		t.Fatal("reply hit missing")
	}
}

func TestScanMatchesAuthorName(t *testing.T) {
	scan, _ := seedThread(t)
	hits, _, err := scan.Search(context.Background(), Query{Text: "sam"})
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if len(hits) != 1 || hits[0].Author != "Sam" {
		t.Fatalf("unexpected hits: %+v", hits)
	}
}

func TestScanStripsMarkupFromSnippets(t *testing.T) {
	scan, _ := seedThread(t)
	hits, _, err := scan.Search(context.Background(), Query{Text: "rollback"})
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if len(hits) != 1 || hits[0].Snippet != "rollback tomorrow" {
		t.Fatalf("unexpected snippet: %+v", hits)
	}
}

func TestScanEmptyQuery(t *testing.T) {
	scan, _ := seedThread(t)
	hits, total, err := scan.Search(context.Background(), Query{Text: "   "})
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if len(hits) != 0 || total != 0 {
		t.Fatalf("blank query matched: %v (total %d)", hits, total)
	}
}

func TestScanHonorsLimit(t *testing.T) {
	scan, _ := seedThread(t)
	hits, total, err := scan.Search(context.Background(), Query{Text: "deploy", Limit: 1})
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if len(hits) != 1 {
		t.Fatalf("limit ignored: %d hits", len(hits))
	}
	if total != 2 {
		t.Fatalf("total should count past the limit, got %d", total)
	}
}

func TestStripMarkup(t *testing.T) {
	got := StripMarkup(`<div><p>hello  <b>world</b></p></div>`)
	if got != "hello world" {
		t.Fatalf("StripMarkup() = %q", got)
	}
	if StripMarkup("") != "" {
		t.Fatal("StripMarkup(empty) should be empty")
	}
}
