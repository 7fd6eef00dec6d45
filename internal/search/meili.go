package search

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync/atomic"
	"time"

	meili "github.com/meilisearch/meilisearch-go"
)

const idxComments = "threadboard_comments"

// Meili indexes and searches comments via Meilisearch.
type Meili struct {
	client  meili.ServiceManager
	healthy atomic.Bool
	done    chan struct{}
}

// NewMeili creates a Meilisearch client and configures the comment index.
// An unreachable server is tolerated; the health monitor reconfigures the
// index once it comes back.
func NewMeili(url, apiKey string) *Meili {
	client := meili.New(url, meili.WithAPIKey(apiKey))

	m := &Meili{
		client: client,
		done:   make(chan struct{}),
	}

	if _, err := client.Health(); err != nil {
		log.Printf("search: meilisearch unavailable at %s: %v", url, err)
		m.healthy.Store(false)
	} else {
		m.healthy.Store(true)
		m.configureIndex()
	}

	go m.healthLoop()
	return m
}

func (m *Meili) configureIndex() {
	if _, err := m.client.CreateIndex(&meili.IndexConfig{
		Uid:        idxComments,
		PrimaryKey: "id",
	}); err != nil {
		log.Printf("search: create index %s (may already exist): %v", idxComments, err)
	}

	index := m.client.Index(idxComments)
	searchable := []string{"text", "author"}
	if _, err := index.UpdateSearchableAttributes(&searchable); err != nil {
		log.Printf("search: update searchable attrs: %v", err)
	}
}

func (m *Meili) healthLoop() {
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-m.done:
			return
		case <-ticker.C:
			_, err := m.client.Health()
			wasHealthy := m.healthy.Load()
			m.healthy.Store(err == nil)
			if err == nil && !wasHealthy {
				log.Println("search: meilisearch recovered, reconfiguring index")
				m.configureIndex()
			}
		}
	}
}

// Close stops the background health monitor.
func (m *Meili) Close() {
	close(m.done)
}

// Healthy reports whether Meilisearch is reachable.
func (m *Meili) Healthy() bool {
	return m.healthy.Load()
}

// IndexComment adds or updates one comment record.
func (m *Meili) IndexComment(rec CommentRecord) error {
	_, err := m.client.Index(idxComments).AddDocuments([]CommentRecord{rec}, nil)
	return err
}

// Search queries the comment index.
func (m *Meili) Search(_ context.Context, q Query) ([]Hit, int, error) {
	if !m.healthy.Load() {
		return nil, 0, fmt.Errorf("meilisearch unhealthy")
	}

	limit := int64(q.Limit)
	if limit == 0 {
		limit = 20
	}

	resp, err := m.client.Index(idxComments).Search(q.Text, &meili.SearchRequest{
		Limit: limit,
	})
	if err != nil {
		m.healthy.Store(false)
		return nil, 0, fmt.Errorf("meilisearch search: %w", err)
	}

	hits := make([]Hit, 0, len(resp.Hits))
	for _, raw := range resp.Hits {
		var rec CommentRecord
		encoded, err := json.Marshal(raw)
		if err != nil {
			continue
		}
		if err := json.Unmarshal(encoded, &rec); err != nil {
			continue
		}
		hits = append(hits, Hit{
			CommentID: rec.CommentID,
			ReplyID:   rec.ReplyID,
			Author:    rec.Author,
			Snippet:   rec.Text,
		})
	}
	return hits, int(resp.EstimatedTotalHits), nil
}
