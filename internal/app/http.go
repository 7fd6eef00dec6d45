package app

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"threadboard/internal/identity"
	"threadboard/internal/richtext"
	"threadboard/internal/search"
	"threadboard/internal/thread"
)

type HTTPServer struct {
	service    *Service
	verifier   *identity.Verifier
	corsOrigin string
}

func NewHTTPServer(service *Service, verifier *identity.Verifier, corsOrigin string) *HTTPServer {
	return &HTTPServer{service: service, verifier: verifier, corsOrigin: corsOrigin}
}

func (s *HTTPServer) Handler() http.Handler {
	return s.withMiddleware(http.HandlerFunc(s.handle))
}

func (s *HTTPServer) handle(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodOptions {
		writeJSON(w, http.StatusNoContent, map[string]any{})
		return
	}

	if (r.Method == http.MethodGet || r.Method == http.MethodHead) && r.URL.Path == "/api/health" {
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		return
	}

	if (r.Method == http.MethodGet || r.Method == http.MethodHead) && r.URL.Path == "/api/ready" {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()
		if err := s.service.Ping(ctx); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]any{"ok": false, "error": err.Error()})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		return
	}

	if r.Method == http.MethodGet && r.URL.Path == "/api/session" {
		author := s.authorFromRequest(r)
		if author == nil {
			writeJSON(w, http.StatusOK, map[string]any{"authenticated": false})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"authenticated": true, "author": author})
		return
	}

	if r.Method == http.MethodGet && r.URL.Path == "/api/comments" {
		s.handleThread(w, r)
		return
	}

	if r.Method == http.MethodPost && r.URL.Path == "/api/comments" {
		s.handlePost(w, r)
		return
	}

	if r.Method == http.MethodGet && r.URL.Path == "/api/comments/stream" {
		s.handleStream(w, r)
		return
	}

	if commentID, ok := subresource(r.URL.Path, "reactions"); ok && r.Method == http.MethodPost {
		s.handleToggleReaction(w, r, commentID)
		return
	}

	if commentID, ok := subresource(r.URL.Path, "replies"); ok && r.Method == http.MethodPost {
		s.handleReply(w, r, commentID)
		return
	}

	if r.Method == http.MethodGet && r.URL.Path == "/api/mentions" {
		suggestions, err := s.service.Suggest(r.Context(), r.URL.Query().Get("draft"))
		if err != nil {
			s.writeDomainError(w, err)
			return
		}
		if suggestions == nil {
			suggestions = []string{}
		}
		writeJSON(w, http.StatusOK, map[string]any{"suggestions": suggestions})
		return
	}

	if r.Method == http.MethodGet && r.URL.Path == "/api/search" {
		limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
		response := s.service.Search(r.Context(), search.Query{
			Text:  r.URL.Query().Get("q"),
			Limit: limit,
		})
		writeJSON(w, http.StatusOK, response)
		return
	}

	writeError(w, http.StatusNotFound, "NOT_FOUND", "Unknown route", nil)
}

func (s *HTTPServer) handleThread(w http.ResponseWriter, r *http.Request) {
	mode, err := thread.ParseSort(r.URL.Query().Get("sort"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_SORT", err.Error(), nil)
		return
	}
	page, _ := strconv.Atoi(r.URL.Query().Get("page"))

	result, err := s.service.Thread(r.Context(), mode, page)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, pageView(result, s.authorFromRequest(r)))
}

func (s *HTTPServer) handlePost(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Text string `json:"text"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	id, err := s.service.Post(r.Context(), s.authorFromRequest(r), body.Text)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"id": id})
}

func (s *HTTPServer) handleToggleReaction(w http.ResponseWriter, r *http.Request, commentID string) {
	if err := s.service.ToggleReaction(r.Context(), s.authorFromRequest(r), commentID); err != nil {
		s.writeDomainError(w, err)
		return
	}
	// No state in the response on purpose: the UI converges on the next
	// snapshot delivery rather than optimistically.
	writeJSON(w, http.StatusAccepted, map[string]any{"ok": true})
}

func (s *HTTPServer) handleReply(w http.ResponseWriter, r *http.Request, targetID string) {
	var body struct {
		Text     string  `json:"text"`
		ParentID *string `json:"parentId"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	replyID, err := s.service.Reply(r.Context(), s.authorFromRequest(r), targetID, body.ParentID, body.Text)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"id": replyID})
}

// handleStream is the transport face of the snapshot subscription loop: one
// SSE event per snapshot delivery, torn down with the request.
func (s *HTTPServer) handleStream(w http.ResponseWriter, r *http.Request) {
	mode, err := thread.ParseSort(r.URL.Query().Get("sort"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_SORT", err.Error(), nil)
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "STREAM_UNSUPPORTED", "Streaming unsupported", nil)
		return
	}

	updates := make(chan []thread.Comment, 1)
	watcher := s.service.Watch(func(comments []thread.Comment) {
		// Keep only the newest undelivered snapshot.
		for {
			select {
			case updates <- comments:
				return
			default:
			}
			select {
			case <-updates:
			default:
			}
		}
	})
	defer watcher.Close()

	if err := watcher.SetSort(r.Context(), mode); err != nil {
		log.Printf("http: open stream: %v", err)
		writeError(w, http.StatusServiceUnavailable, "STORE_UNAVAILABLE", "The comment store is unavailable, please try again.", nil)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	author := s.authorFromRequest(r)
	for {
		select {
		case <-r.Context().Done():
			return
		case comments := <-updates:
			payload, err := json.Marshal(threadView(comments, author))
			if err != nil {
				log.Printf("http: marshal snapshot: %v", err)
				continue
			}
			fmt.Fprintf(w, "data: %s\n\n", payload)
			flusher.Flush()
		}
	}
}

// authorFromRequest resolves the bearer token into an author snapshot.
// Verification failures are logged and treated as signed-out.
func (s *HTTPServer) authorFromRequest(r *http.Request) *identity.Author {
	token := bearerToken(r)
	if token == "" {
		return nil
	}
	author, err := s.verifier.Verify(token)
	if err != nil {
		log.Printf("http: verify token: %v", err)
		return nil
	}
	return &author
}

func (s *HTTPServer) writeDomainError(w http.ResponseWriter, err error) {
	if domainErr, ok := AsDomainError(err); ok {
		writeError(w, domainErr.Status, domainErr.Code, domainErr.Message, nil)
		return
	}
	writeError(w, http.StatusInternalServerError, "INTERNAL", "Unexpected error", nil)
}

func (s *HTTPServer) withMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", s.corsOrigin)
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Authorization, Content-Type")
		next.ServeHTTP(w, r)
	})
}

// subresource matches /api/comments/{id}/{leaf} and returns the id.
func subresource(path, leaf string) (string, bool) {
	rest, ok := strings.CutPrefix(path, "/api/comments/")
	if !ok {
		return "", false
	}
	id, ok := strings.CutSuffix(rest, "/"+leaf)
	if !ok || id == "" || strings.Contains(id, "/") {
		return "", false
	}
	return id, true
}

// commentView is the rendered form of one comment node. HTML carries the
// display copy produced by the rich-text transform; the stored text rides
// along untouched.
type commentView struct {
	ID        string        `json:"id"`
	Text      string        `json:"text"`
	HTML      string        `json:"html"`
	Author    authorView    `json:"author"`
	CreatedAt createdAtView `json:"createdAt"`
	Reactions int           `json:"reactions"`
	Reacted   bool          `json:"reacted"`
	Replies   []commentView `json:"replies"`
}

type authorView struct {
	ID          string `json:"id"`
	DisplayName string `json:"displayName"`
	AvatarURL   string `json:"avatarUrl"`
}

type createdAtView struct {
	Time      string `json:"time,omitempty"`
	Confirmed bool   `json:"confirmed"`
}

type pageViewPayload struct {
	Comments   []commentView `json:"comments"`
	Page       int           `json:"page"`
	TotalPages int           `json:"totalPages"`
	Total      int           `json:"total"`
}

func pageView(p thread.Page, viewer *identity.Author) pageViewPayload {
	return pageViewPayload{
		Comments:   threadView(p.Comments, viewer),
		Page:       p.Number,
		TotalPages: p.TotalPages,
		Total:      p.Total,
	}
}

func threadView(comments []thread.Comment, viewer *identity.Author) []commentView {
	views := make([]commentView, 0, len(comments))
	for _, c := range comments {
		views = append(views, commentToView(c, viewer))
	}
	return views
}

func commentToView(c thread.Comment, viewer *identity.Author) commentView {
	view := commentView{
		ID:   c.ID,
		Text: c.Text,
		HTML: richtext.Render(c.Text),
		Author: authorView{
			ID:          c.Author.ID,
			DisplayName: c.Author.DisplayName,
			AvatarURL:   c.Author.AvatarURL,
		},
		Reactions: c.ReactionCount(),
		Replies:   threadView(c.Replies, viewer),
	}
	if viewer != nil {
		view.Reacted = c.HasReaction(viewer.ID)
	}
	if c.CreatedAt.Confirmed() {
		view.CreatedAt = createdAtView{Time: c.CreatedAt.Time().UTC().Format(time.RFC3339), Confirmed: true}
	}
	return view
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		log.Printf("http: write response: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, code, message string, details any) {
	writeJSON(w, status, map[string]any{
		"error": map[string]any{
			"code":    code,
			"message": message,
			"details": details,
		},
	})
}

func decodeBody(r *http.Request, v any) error {
	defer r.Body.Close()
	decoder := json.NewDecoder(http.MaxBytesReader(nil, r.Body, 1<<20))
	if err := decoder.Decode(v); err != nil {
		return fmt.Errorf("decode body: %w", err)
	}
	return nil
}

func bearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	if header == "" {
		return ""
	}
	token, ok := strings.CutPrefix(header, "Bearer ")
	if !ok {
		return ""
	}
	return strings.TrimSpace(token)
}
