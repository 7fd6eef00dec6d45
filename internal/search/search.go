// Package search provides full-text search over comment threads:
// Meilisearch when configured and healthy, a plain scan of the document
// store otherwise.
package search

import (
	"context"
	"regexp"
	"strings"
)

// Hit is a single search result. ReplyID is empty for top-level comments.
type Hit struct {
	CommentID string `json:"commentId"`
	ReplyID   string `json:"replyId,omitempty"`
	Author    string `json:"author"`
	Snippet   string `json:"snippet"`
}

type Query struct {
	Text  string
	Limit int
}

// Response is the envelope returned by the search endpoint.
type Response struct {
	Hits  []Hit  `json:"hits"`
	Total int    `json:"total"`
	Query string `json:"query"`
}

// CommentRecord is the indexed form of one comment or reply.
type CommentRecord struct {
	ID        string `json:"id"`
	CommentID string `json:"commentId"`
	ReplyID   string `json:"replyId,omitempty"`
	Author    string `json:"author"`
	Text      string `json:"text"`
}

// Searcher executes a full-text search.
type Searcher interface {
	Search(ctx context.Context, q Query) ([]Hit, int, error)
}

var tagPattern = regexp.MustCompile(`<[^>]*>`)

// StripMarkup flattens a rich-text fragment to searchable plain text.
func StripMarkup(fragment string) string {
	return strings.Join(strings.Fields(tagPattern.ReplaceAllString(fragment, " ")), " ")
}
