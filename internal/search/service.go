package search

import (
	"context"
	"log"
)

// Service is the facade that tries Meilisearch first and falls back to a
// store scan.
type Service struct {
	meili *Meili
	scan  *Scan
}

// NewService creates a search service. meili may be nil if Meilisearch is
// not configured.
func NewService(meili *Meili, scan *Scan) *Service {
	return &Service{meili: meili, scan: scan}
}

// Search tries Meilisearch if healthy, otherwise scans the store.
func (s *Service) Search(ctx context.Context, q Query) Response {
	if s.meili != nil && s.meili.Healthy() {
		hits, total, err := s.meili.Search(ctx, q)
		if err == nil {
			return Response{Hits: nonNil(hits), Total: total, Query: q.Text}
		}
		log.Printf("search: meilisearch error, falling back to scan: %v", err)
	}

	hits, total, err := s.scan.Search(ctx, q)
	if err != nil {
		log.Printf("search: scan error: %v", err)
		return Response{Hits: []Hit{}, Total: 0, Query: q.Text}
	}
	return Response{Hits: nonNil(hits), Total: total, Query: q.Text}
}

// IndexComment indexes a comment or reply (fire-and-forget).
func (s *Service) IndexComment(rec CommentRecord) {
	if s == nil || s.meili == nil || !s.meili.Healthy() {
		return
	}
	go func() {
		if err := s.meili.IndexComment(rec); err != nil {
			log.Printf("search: index comment %s: %v", rec.ID, err)
		}
	}()
}

func nonNil(hits []Hit) []Hit {
	if hits == nil {
		return []Hit{}
	}
	return hits
}
