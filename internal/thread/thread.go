// Package thread is the in-memory comment tree model: it materializes store
// snapshots into nested Comment values and derives the sorted, paginated and
// reveal-windowed views the widget renders.
package thread

import (
	"sort"
	"time"

	"threadboard/internal/docstore"
	"threadboard/internal/identity"
	"threadboard/internal/util"
)

// Document field names for a stored comment.
const (
	FieldText          = "text"
	FieldAuthor        = "author"
	FieldCreatedAt     = "createdAt"
	FieldPending       = "pending"
	FieldReplies       = "replies"
	FieldReactionCount = "reactionCount"

	// SetReactions is the set field holding reacting author ids.
	SetReactions = "reactions"
)

// Timestamp is the dual representation of a comment's creation time: either
// confirmed by the store or a client-local time still pending confirmation.
// Display code must check Confirmed explicitly (pending renders "just now").
type Timestamp struct {
	at        time.Time
	confirmed bool
}

func ConfirmedAt(t time.Time) Timestamp { return Timestamp{at: t, confirmed: true} }
func PendingAt(t time.Time) Timestamp   { return Timestamp{at: t} }

func (ts Timestamp) Time() time.Time { return ts.at }
func (ts Timestamp) Confirmed() bool { return ts.confirmed }

// Comment is one node of a thread. Replies recurse without a depth bound;
// they live inline in the owning top-level document.
type Comment struct {
	ID        string
	Text      string
	Author    identity.Author
	CreatedAt Timestamp
	Reactions []string
	Replies   []Comment
}

func (c *Comment) ReactionCount() int { return len(c.Reactions) }

func (c *Comment) HasReaction(authorID string) bool {
	for _, id := range c.Reactions {
		if id == authorID {
			return true
		}
	}
	return false
}

// NewReply builds a reply with a collision-resistant client-generated id and
// a pending timestamp.
func NewReply(author identity.Author, text string, now time.Time) Comment {
	return Comment{
		ID:        util.NewID("r"),
		Text:      text,
		Author:    author.Normalize(),
		CreatedAt: PendingAt(now),
	}
}

// FromDocuments materializes a thread from one ordered store snapshot. No
// further fetches happen: every reply is already inline in its document.
func FromDocuments(docs []docstore.Document) []Comment {
	comments := make([]Comment, 0, len(docs))
	for _, doc := range docs {
		comments = append(comments, FromDocument(doc))
	}
	return comments
}

func FromDocument(doc docstore.Document) Comment {
	c := Comment{
		ID:        doc.ID,
		Text:      stringField(doc.Data, FieldText),
		Author:    decodeAuthor(doc.Data[FieldAuthor]),
		Reactions: append([]string(nil), doc.Set(SetReactions)...),
		Replies:   decodeReplies(doc.Data[FieldReplies]),
	}
	c.CreatedAt = decodeTimestamp(doc.Data)
	return c
}

// EncodeDocument builds the stored form of a new top-level comment.
func EncodeDocument(author identity.Author, text string, createdAt time.Time) docstore.Document {
	return docstore.Document{
		Data: map[string]any{
			FieldText:          text,
			FieldAuthor:        encodeAuthor(author.Normalize()),
			FieldCreatedAt:     docstore.FormatTime(createdAt),
			FieldReplies:       []any{},
			FieldReactionCount: 0,
		},
		Sets: map[string][]string{SetReactions: nil},
	}
}

// EncodeReply builds the inline stored form of a reply node.
func EncodeReply(c Comment) map[string]any {
	reactions := make([]any, len(c.Reactions))
	for i, r := range c.Reactions {
		reactions[i] = r
	}
	return map[string]any{
		"id":           c.ID,
		FieldText:      c.Text,
		FieldAuthor:    encodeAuthor(c.Author),
		FieldCreatedAt: docstore.FormatTime(c.CreatedAt.Time()),
		FieldPending:   !c.CreatedAt.Confirmed(),
		SetReactions:   reactions,
		FieldReplies:   EncodeReplies(c.Replies),
	}
}

func EncodeReplies(replies []Comment) []any {
	out := make([]any, len(replies))
	for i, r := range replies {
		out[i] = EncodeReply(r)
	}
	return out
}

// FindNode locates a comment by id anywhere in the tree, depth-first.
func FindNode(comments []Comment, id string) *Comment {
	for i := range comments {
		if comments[i].ID == id {
			return &comments[i]
		}
		if found := FindNode(comments[i].Replies, id); found != nil {
			return found
		}
	}
	return nil
}

// SortNewestFirst orders top-level comments by creation time descending.
// The sort is stable, so store-order ties keep their relative position.
func SortNewestFirst(comments []Comment) {
	sort.SliceStable(comments, func(i, j int) bool {
		return comments[i].CreatedAt.Time().After(comments[j].CreatedAt.Time())
	})
}

// SortMostReacted orders by true reaction-set cardinality descending. The
// store can only pre-sort by the persisted scalar mirror, so this client-side
// pass is authoritative; stability keeps equal counts from reshuffling
// between renders.
func SortMostReacted(comments []Comment) {
	sort.SliceStable(comments, func(i, j int) bool {
		return comments[i].ReactionCount() > comments[j].ReactionCount()
	})
}

// DistinctAuthors returns the display names of top-level comment authors in
// encounter order, deduplicated. It feeds the mention matcher; the set is
// collected once at mount, not kept live.
func DistinctAuthors(comments []Comment) []string {
	seen := make(map[string]struct{}, len(comments))
	var names []string
	for _, c := range comments {
		if _, ok := seen[c.Author.DisplayName]; ok {
			continue
		}
		seen[c.Author.DisplayName] = struct{}{}
		names = append(names, c.Author.DisplayName)
	}
	return names
}

func decodeReplies(v any) []Comment {
	items, ok := v.([]any)
	if !ok || len(items) == 0 {
		return nil
	}
	replies := make([]Comment, 0, len(items))
	for _, item := range items {
		m, ok := item.(map[string]any)
		if !ok {
			continue
		}
		reply := Comment{
			ID:        stringField(m, "id"),
			Text:      stringField(m, FieldText),
			Author:    decodeAuthor(m[FieldAuthor]),
			Reactions: decodeStrings(m[SetReactions]),
			Replies:   decodeReplies(m[FieldReplies]),
		}
		reply.CreatedAt = decodeTimestamp(m)
		replies = append(replies, reply)
	}
	return replies
}

func decodeTimestamp(m map[string]any) Timestamp {
	at, ok := docstore.ParseTime(m[FieldCreatedAt])
	if !ok {
		return Timestamp{}
	}
	if pending, _ := m[FieldPending].(bool); pending {
		return PendingAt(at)
	}
	return ConfirmedAt(at)
}

func encodeAuthor(a identity.Author) map[string]any {
	return map[string]any{
		"id":          a.ID,
		"displayName": a.DisplayName,
		"avatarUrl":   a.AvatarURL,
	}
}

func decodeAuthor(v any) identity.Author {
	m, ok := v.(map[string]any)
	if !ok {
		return identity.Author{}.Normalize()
	}
	return identity.Author{
		ID:          stringField(m, "id"),
		DisplayName: stringField(m, "displayName"),
		AvatarURL:   stringField(m, "avatarUrl"),
	}.Normalize()
}

func decodeStrings(v any) []string {
	items, ok := v.([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(items))
	for _, item := range items {
		if s, ok := item.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

func stringField(m map[string]any, key string) string {
	s, _ := m[key].(string)
	return s
}
