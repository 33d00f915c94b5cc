package token

import (
	"errors"
	"testing"

	"github.com/mmeshcher/water-delivery-system/internal/apperr"
	"github.com/mmeshcher/water-delivery-system/internal/model"
)

func TestIssueParse_RoundTrip(t *testing.T) {
	m := NewManager("test-secret", 60)

	signed, err := m.Issue(42, model.RoleCourier)
	if err != nil {
		t.Fatalf("Issue error: %v", err)
	}

	userID, err := m.Parse(signed)
	if err != nil {
		t.Fatalf("Parse error: %v", err)
	}
	if userID != 42 {
		t.Fatalf("userID = %d, want 42", userID)
	}
}

func TestParse_Expired(t *testing.T) {
	m := NewManager("test-secret", -1)

	signed, err := m.Issue(42, model.RoleClient)
	if err != nil {
		t.Fatalf("Issue error: %v", err)
	}

	_, err = m.Parse(signed)
	if !errors.Is(err, apperr.ErrAuthentication) {
		t.Fatalf("expected ErrAuthentication for expired token, got %v", err)
	}
}

func TestParse_WrongSecret(t *testing.T) {
	issuer := NewManager("secret-one", 60)
	verifier := NewManager("secret-two", 60)

	signed, err := issuer.Issue(42, model.RoleClient)
	if err != nil {
		t.Fatalf("Issue error: %v", err)
	}

	_, err = verifier.Parse(signed)
	if !errors.Is(err, apperr.ErrAuthentication) {
		t.Fatalf("expected ErrAuthentication for wrong secret, got %v", err)
	}
}

func TestParse_Garbage(t *testing.T) {
	m := NewManager("test-secret", 60)

	for _, tokenString := range []string{"", "not-a-token", "a.b.c"} {
		if _, err := m.Parse(tokenString); !errors.Is(err, apperr.ErrAuthentication) {
			t.Fatalf("Parse(%q): expected ErrAuthentication, got %v", tokenString, err)
		}
	}
}
