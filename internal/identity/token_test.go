package identity

import (
	"testing"
	"time"
)

func TestIssueAndParseToken(t *testing.T) {
	secret := []byte("secret")
	issued, err := IssueToken(secret, Claims{
		Sub:    "user-1",
		Name:   "Avery",
		Avatar: "https://example.com/a.png",
		Exp:    time.Now().Add(time.Hour).Unix(),
	})
	if err != nil {
		t.Fatalf("IssueToken() error = %v", err)
	}
	claims, err := ParseToken(secret, issued)
	if err != nil {
		t.Fatalf("ParseToken() error = %v", err)
	}
	if claims.Sub != "user-1" || claims.Name != "Avery" {
		t.Fatalf("unexpected claims: %+v", claims)
	}
}

func TestParseTokenRejectsExpired(t *testing.T) {
	secret := []byte("secret")
	issued, err := IssueToken(secret, Claims{
		Sub:  "user-1",
		Name: "Avery",
		Exp:  time.Now().Add(-time.Minute).Unix(),
	})
	if err != nil {
		t.Fatalf("IssueToken() error = %v", err)
	}
	_, err = ParseToken(secret, issued)
	if err == nil {
		t.Fatal("expected ParseToken() to fail for expired token")
	}
}

func TestParseTokenRejectsTamperedSignature(t *testing.T) {
	secret := []byte("secret")
	issued, err := IssueToken(secret, Claims{
		Sub:  "user-1",
		Name: "Avery",
		Exp:  time.Now().Add(time.Hour).Unix(),
	})
	if err != nil {
		t.Fatalf("IssueToken() error = %v", err)
	}
	if _, err := ParseToken([]byte("other"), issued); err == nil {
		t.Fatal("expected ParseToken() to fail for wrong secret")
	}
	if _, err := ParseToken(secret, issued+"x"); err == nil {
		t.Fatal("expected ParseToken() to fail for tampered token")
	}
	if _, err := ParseToken(secret, "not-a-token"); err == nil {
		t.Fatal("expected ParseToken() to fail for malformed token")
	}
}

func TestVerifierNormalizesAuthor(t *testing.T) {
	secret := []byte("secret")
	issued, err := IssueToken(secret, Claims{
		Sub: "user-1",
		Exp: time.Now().Add(time.Hour).Unix(),
	})
	if err != nil {
		t.Fatalf("IssueToken() error = %v", err)
	}

	author, err := NewVerifier(secret).Verify(issued)
	if err != nil {
		t.Fatalf("Verify() error = %v", err)
	}
	if author.DisplayName != AnonymousName {
		t.Fatalf("DisplayName = %q, want %q", author.DisplayName, AnonymousName)
	}
	if author.AvatarURL != DefaultAvatarURL {
		t.Fatalf("AvatarURL = %q, want %q", author.AvatarURL, DefaultAvatarURL)
	}
}

func TestNormalizeKeepsExplicitProfile(t *testing.T) {
	author := Author{ID: "u1", DisplayName: "Jo", AvatarURL: "https://example.com/jo.png"}.Normalize()
	if author.DisplayName != "Jo" || author.AvatarURL != "https://example.com/jo.png" {
		t.Fatalf("Normalize() changed populated fields: %+v", author)
	}
}
