package auth

import (
	"errors"
	"testing"
	"time"
)

func TestGenerateAndValidate(t *testing.T) {
	t.Setenv("FINTRACK_AUTH_SECRET", "test-secret")
	ResetSecretForTests()

	token, err := GenerateToken("owner-42", 30*time.Minute)
	if err != nil {
		t.Fatalf("GenerateToken: %v", err)
	}

	owner, err := ParseAndValidate(token)
	if err != nil {
		t.Fatalf("ParseAndValidate: %v", err)
	}
	if owner != "owner-42" {
		t.Fatalf("unexpected owner: %q", owner)
	}
}

func TestValidateRejectsTamperedToken(t *testing.T) {
	t.Setenv("FINTRACK_AUTH_SECRET", "test-secret")
	ResetSecretForTests()

	token, err := GenerateToken("owner-42", time.Minute)
	if err != nil {
		t.Fatalf("GenerateToken: %v", err)
	}

	if _, err := ParseAndValidate(token + "x"); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken, got %v", err)
	}
}

func TestValidateRejectsWrongSecret(t *testing.T) {
	t.Setenv("FINTRACK_AUTH_SECRET", "secret-a")
	ResetSecretForTests()
	token, err := GenerateToken("owner-42", time.Minute)
	if err != nil {
		t.Fatalf("GenerateToken: %v", err)
	}

	t.Setenv("FINTRACK_AUTH_SECRET", "secret-b")
	ResetSecretForTests()
	if _, err := ParseAndValidate(token); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken, got %v", err)
	}
}

func TestGenerateRequiresOwner(t *testing.T) {
	t.Setenv("FINTRACK_AUTH_SECRET", "test-secret")
	ResetSecretForTests()
	if _, err := GenerateToken("  ", time.Minute); err == nil {
		t.Fatal("expected error for blank owner")
	}
}
