// Package identity adapts the external identity provider: it verifies the ID
// tokens the provider mints and exposes the signed-in author as an explicit
// object handed to whatever needs it, never as package-level state.
package identity

import (
	"context"
	"log"
	"sync"
)

const (
	// AnonymousName is displayed when the provider has no display name.
	AnonymousName = "Anonymous"
	// DefaultAvatarURL is the placeholder shown for authors without an avatar.
	DefaultAvatarURL = "https://example.com/default-profile.png"
)

// Author is the immutable identity snapshot denormalized into every comment
// at write time. It is never re-resolved, so a comment keeps the name and
// avatar its author had when posting.
type Author struct {
	ID          string `json:"id"`
	DisplayName string `json:"displayName"`
	AvatarURL   string `json:"avatarUrl"`
}

// Normalize fills provider-absent fields with the documented defaults.
func (a Author) Normalize() Author {
	if a.DisplayName == "" {
		a.DisplayName = AnonymousName
	}
	if a.AvatarURL == "" {
		a.AvatarURL = DefaultAvatarURL
	}
	return a
}

// Provider is the sign-in surface the widget consumes. CurrentUser returns
// nil while signed out.
type Provider interface {
	CurrentUser(ctx context.Context) *Author
	SignIn(ctx context.Context) error
	SignOut(ctx context.Context) error
}

// TokenSource obtains a fresh ID token from the external identity service,
// typically the tail end of its popup flow.
type TokenSource func(ctx context.Context) (string, error)

// TokenProvider verifies tokens from a TokenSource and caches the resulting
// author for the lifetime of the session.
type TokenProvider struct {
	verifier *Verifier
	source   TokenSource

	mu     sync.RWMutex
	author *Author
}

func NewTokenProvider(verifier *Verifier, source TokenSource) *TokenProvider {
	return &TokenProvider{verifier: verifier, source: source}
}

func (p *TokenProvider) CurrentUser(context.Context) *Author {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.author == nil {
		return nil
	}
	author := *p.author
	return &author
}

// SignIn fetches and verifies a token. Failures are logged per the
// silent-fail UX: the caller sees the error but no structured taxonomy.
func (p *TokenProvider) SignIn(ctx context.Context) error {
	token, err := p.source(ctx)
	if err != nil {
		log.Printf("identity: sign-in: %v", err)
		return err
	}
	author, err := p.verifier.Verify(token)
	if err != nil {
		log.Printf("identity: sign-in: %v", err)
		return err
	}
	p.mu.Lock()
	p.author = &author
	p.mu.Unlock()
	return nil
}

func (p *TokenProvider) SignOut(context.Context) error {
	p.mu.Lock()
	p.author = nil
	p.mu.Unlock()
	return nil
}

// Static returns a provider that is permanently signed in as the given
// author; tests and local development use it.
func Static(author Author) Provider {
	return &staticProvider{author: author.Normalize()}
}

type staticProvider struct {
	author Author
}

func (p *staticProvider) CurrentUser(context.Context) *Author {
	author := p.author
	return &author
}

func (p *staticProvider) SignIn(context.Context) error  { return nil }
func (p *staticProvider) SignOut(context.Context) error { return nil }
