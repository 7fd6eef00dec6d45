package search

import (
	"context"
	"fmt"
	"strings"

	"threadboard/internal/docstore"
	"threadboard/internal/thread"
)

// Scan is the fallback searcher: it walks every document in the thread
// collection and substring-matches the plain text. Fine for a widget-sized
// collection; Meilisearch takes over when configured.
type Scan struct {
	store      docstore.Store
	collection string
}

func NewScan(store docstore.Store, collection string) *Scan {
	return &Scan{store: store, collection: collection}
}

func (s *Scan) Search(ctx context.Context, q Query) ([]Hit, int, error) {
	limit := q.Limit
	if limit == 0 {
		limit = 20
	}
	needle := strings.ToLower(strings.TrimSpace(q.Text))
	if needle == "" {
		return nil, 0, nil
	}

	docs, err := s.store.Read(ctx, docstore.Query{
		Collection: s.collection,
		OrderBy:    thread.FieldCreatedAt,
		Direction:  docstore.Descending,
	})
	if err != nil {
		return nil, 0, fmt.Errorf("scan collection: %w", err)
	}

	var hits []Hit
	total := 0
	for _, comment := range thread.FromDocuments(docs) {
		collectHits(comment, comment.ID, "", needle, limit, &hits, &total)
	}
	return hits, total, nil
}

func collectHits(c thread.Comment, commentID, replyID, needle string, limit int, hits *[]Hit, total *int) {
	text := StripMarkup(c.Text)
	if strings.Contains(strings.ToLower(text), needle) ||
		strings.Contains(strings.ToLower(c.Author.DisplayName), needle) {
		*total++
		if len(*hits) < limit {
			*hits = append(*hits, Hit{
				CommentID: commentID,
				ReplyID:   replyID,
				Author:    c.Author.DisplayName,
				Snippet:   text,
			})
		}
	}
	for _, reply := range c.Replies {
		collectHits(reply, commentID, reply.ID, needle, limit, hits, total)
	}
}
