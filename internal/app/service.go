package app

import (
	"context"
	"errors"
	"log"
	"strings"
	"sync"
	"time"

	"threadboard/internal/docstore"
	"threadboard/internal/identity"
	"threadboard/internal/media"
	"threadboard/internal/mention"
	"threadboard/internal/search"
	"threadboard/internal/thread"
)

// Service carries the comment-thread operations: posting, replying, toggling
// reactions and deriving thread views. It gates every mutation on a signed-in
// author and maps store failures into the user-visible error taxonomy; store
// failures are logged at this boundary and never retried.
type Service struct {
	store      docstore.Store
	collection string
	search     *search.Service
	media      *media.Store
	now        func() time.Time

	mentionOnce sync.Once
	matcher     *mention.Matcher
}

// New wires the service. search and media may be nil when not configured.
func New(store docstore.Store, collection string, searchService *search.Service, mediaStore *media.Store) *Service {
	return &Service{
		store:      store,
		collection: collection,
		search:     searchService,
		media:      mediaStore,
		now:        time.Now,
	}
}

// Post creates a new top-level comment and returns its store-assigned id.
func (s *Service) Post(ctx context.Context, author *identity.Author, text string) (string, error) {
	if author == nil {
		return "", errAuthRequired()
	}
	if err := validateDraft(text); err != nil {
		return "", err
	}

	text = s.media.OffloadInlineImages(ctx, text)
	id, err := s.store.Create(ctx, s.collection, thread.EncodeDocument(*author, text, s.now()))
	if err != nil {
		log.Printf("app: create comment: %v", err)
		return "", errStoreUnavailable()
	}

	s.search.IndexComment(search.CommentRecord{
		ID:        id,
		CommentID: id,
		Author:    author.Normalize().DisplayName,
		Text:      search.StripMarkup(text),
	})
	return id, nil
}

// ToggleReaction flips the author's membership in a comment's reaction set.
// It is a read-modify-write with no lock: the store's atomic set primitives
// make a single user's repeated toggle idempotent, but a true concurrent
// double-toggle from two sessions may land in either state. Nothing is
// mutated locally; the UI converges on the next snapshot delivery.
func (s *Service) ToggleReaction(ctx context.Context, author *identity.Author, commentID string) error {
	if author == nil {
		return errAuthRequired()
	}

	doc, err := s.store.ReadOne(ctx, s.collection, commentID)
	if errors.Is(err, docstore.ErrNotFound) {
		return errNotFound("comment")
	}
	if err != nil {
		log.Printf("app: read comment %s: %v", commentID, err)
		return errStoreUnavailable()
	}

	members := doc.Set(thread.SetReactions)
	op := docstore.SetAdd
	count := len(members) + 1
	for _, member := range members {
		if member == author.ID {
			op = docstore.SetRemove
			count = len(members) - 1
			break
		}
	}

	if err := s.store.UpdateSetField(ctx, s.collection, commentID, thread.SetReactions, op, author.ID); err != nil {
		log.Printf("app: toggle reaction on %s: %v", commentID, err)
		return errStoreUnavailable()
	}

	// Scalar mirror the store can pre-sort popularity by. Best effort; the
	// client-side sort works from true set cardinality regardless.
	if err := s.store.UpdateField(ctx, s.collection, commentID, thread.FieldReactionCount, count); err != nil {
		log.Printf("app: update reaction count on %s: %v", commentID, err)
	}
	return nil
}

// Reply appends a reply to the target comment. With a nil parentID the
// target is itself top-level and the reply is appended to its replies array
// with the store's atomic append. With a non-nil parentID the target sits
// inside the top-level document addressed by parentID: the node is located
// in that document's tree and the whole replies array is written back, since
// nested array mutation has no set-union primitive. An unresolvable target
// fails NOT_FOUND with no write; targets nested deeper than the addressed
// document are not searched for elsewhere.
func (s *Service) Reply(ctx context.Context, author *identity.Author, targetID string, parentID *string, text string) (string, error) {
	if author == nil {
		return "", errAuthRequired()
	}
	if err := validateDraft(text); err != nil {
		return "", err
	}

	text = s.media.OffloadInlineImages(ctx, text)
	reply := thread.NewReply(*author, text, s.now())

	ownerID := targetID
	if parentID == nil {
		if _, err := s.store.ReadOne(ctx, s.collection, targetID); err != nil {
			if errors.Is(err, docstore.ErrNotFound) {
				return "", errNotFound("comment")
			}
			log.Printf("app: read comment %s: %v", targetID, err)
			return "", errStoreUnavailable()
		}
		if err := s.store.AppendToArray(ctx, s.collection, targetID, thread.FieldReplies, thread.EncodeReply(reply)); err != nil {
			log.Printf("app: append reply to %s: %v", targetID, err)
			return "", errStoreUnavailable()
		}
	} else {
		ownerID = *parentID
		doc, err := s.store.ReadOne(ctx, s.collection, ownerID)
		if errors.Is(err, docstore.ErrNotFound) {
			return "", errNotFound("parent comment")
		}
		if err != nil {
			log.Printf("app: read comment %s: %v", ownerID, err)
			return "", errStoreUnavailable()
		}

		owner := thread.FromDocument(doc)
		tree := []thread.Comment{owner}
		node := thread.FindNode(tree, targetID)
		if node == nil {
			return "", errNotFound("parent comment")
		}
		node.Replies = append(node.Replies, reply)

		if err := s.store.UpdateField(ctx, s.collection, ownerID, thread.FieldReplies, thread.EncodeReplies(tree[0].Replies)); err != nil {
			log.Printf("app: rewrite replies of %s: %v", ownerID, err)
			return "", errStoreUnavailable()
		}
	}

	s.search.IndexComment(search.CommentRecord{
		ID:        ownerID + "-" + reply.ID,
		CommentID: ownerID,
		ReplyID:   reply.ID,
		Author:    reply.Author.DisplayName,
		Text:      search.StripMarkup(text),
	})
	return reply.ID, nil
}

// Thread returns one pagination window of the sorted thread.
func (s *Service) Thread(ctx context.Context, mode thread.Sort, page int) (thread.Page, error) {
	docs, err := s.store.Read(ctx, mode.Query(s.collection))
	if err != nil {
		log.Printf("app: read thread: %v", err)
		return thread.Page{}, errStoreUnavailable()
	}
	comments := thread.FromDocuments(docs)
	mode.Order(comments)
	return thread.Paginate(comments, page), nil
}

// Suggest matches author names for the draft's current "@" token. The name
// set is collected once, on first use, and not kept live.
func (s *Service) Suggest(ctx context.Context, draft string) ([]string, error) {
	var initErr error
	s.mentionOnce.Do(func() {
		docs, err := s.store.Read(ctx, thread.ByLatest.Query(s.collection))
		if err != nil {
			log.Printf("app: collect author names: %v", err)
			initErr = errStoreUnavailable()
			return
		}
		s.matcher = mention.NewMatcher(thread.DistinctAuthors(thread.FromDocuments(docs)))
	})
	if initErr != nil {
		// Leave the once consumed; mention suggestions stay empty for the
		// session rather than hammering an unavailable store.
		return nil, initErr
	}
	if s.matcher == nil {
		return nil, nil
	}
	return s.matcher.Suggest(draft), nil
}

// Search queries the comment search facade.
func (s *Service) Search(ctx context.Context, q search.Query) search.Response {
	if s.search == nil {
		return search.Response{Hits: []search.Hit{}, Query: q.Text}
	}
	return s.search.Search(ctx, q)
}

// Watch builds a thread watcher over this service's collection.
func (s *Service) Watch(onSnapshot func([]thread.Comment)) *thread.Watcher {
	return thread.NewWatcher(s.store, s.collection, onSnapshot)
}

// Ping reports store reachability for readiness checks.
func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

// validateDraft rejects drafts with no visible content. An image-only
// comment is valid.
func validateDraft(text string) error {
	if strings.TrimSpace(search.StripMarkup(text)) != "" {
		return nil
	}
	if strings.Contains(text, "<img") {
		return nil
	}
	return errValidation("Please check your message.")
}
