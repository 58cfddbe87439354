package auth

import (
	"errors"
	"testing"
)

func TestLoginDisabled(t *testing.T) {
	t.Setenv("AUTH_ENABLED", "false")
	a := NewAuthenticator()

	if a.IsEnabled() {
		t.Fatal("auth should be disabled")
	}
	if _, _, err := a.Login("admin", "whatever"); !errors.Is(err, ErrAuthDisabled) {
		t.Errorf("err = %v, want ErrAuthDisabled", err)
	}
}

func TestLoginRoundTrip(t *testing.T) {
	t.Setenv("AUTH_ENABLED", "true")
	t.Setenv("AUTH_USERNAME", "operator")
	t.Setenv("AUTH_PASSWORD", "swordfish")
	t.Setenv("JWT_SECRET", "test-secret")

	a := NewAuthenticator()

	token, expiresAt, err := a.Login("operator", "swordfish")
	if err != nil {
		t.Fatalf("Login failed: %v", err)
	}
	if token == "" || expiresAt == 0 {
		t.Fatal("expected a token and expiry")
	}

	claims, err := a.ValidateToken(token)
	if err != nil {
		t.Fatalf("ValidateToken failed: %v", err)
	}
	if claims.Username != "operator" {
		t.Errorf("username = %q, want operator", claims.Username)
	}
	if claims.Issuer != "dresscode" {
		t.Errorf("issuer = %q, want dresscode", claims.Issuer)
	}
}

func TestLoginRejectsBadCredentials(t *testing.T) {
	t.Setenv("AUTH_ENABLED", "true")
	t.Setenv("AUTH_USERNAME", "operator")
	t.Setenv("AUTH_PASSWORD", "swordfish")

	a := NewAuthenticator()

	if _, _, err := a.Login("operator", "wrong"); !errors.Is(err, ErrInvalidCredentials) {
		t.Errorf("wrong password: err = %v, want ErrInvalidCredentials", err)
	}
	if _, _, err := a.Login("intruder", "swordfish"); !errors.Is(err, ErrInvalidCredentials) {
		t.Errorf("wrong username: err = %v, want ErrInvalidCredentials", err)
	}
}

func TestHashedPasswordFromEnv(t *testing.T) {
	hash, err := HashPassword("hunter2")
	if err != nil {
		t.Fatal(err)
	}

	t.Setenv("AUTH_ENABLED", "true")
	t.Setenv("AUTH_USERNAME", "admin")
	t.Setenv("AUTH_PASSWORD", hash)

	a := NewAuthenticator()
	if _, _, err := a.Login("admin", "hunter2"); err != nil {
		t.Errorf("login with pre-hashed password failed: %v", err)
	}
}

func TestValidateRejectsGarbage(t *testing.T) {
	t.Setenv("JWT_SECRET", "test-secret")
	m := NewTokenManager()

	if _, err := m.Validate("not.a.token"); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("err = %v, want ErrInvalidToken", err)
	}
}
