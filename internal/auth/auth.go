package auth

import (
	"errors"
	"log"
	"os"

	"golang.org/x/crypto/bcrypt"
)

var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrAuthDisabled       = errors.New("authentication is disabled")
)

// Authenticator guards the job control API. It is configured entirely from
// the environment so deployments can enable it without a config file.
type Authenticator struct {
	enabled      bool
	username     string
	passwordHash []byte
	tokens       *TokenManager
}

// NewAuthenticator builds an authenticator from environment variables.
// AUTH_ENABLED=true turns it on; AUTH_USERNAME and AUTH_PASSWORD set the
// single operator account. AUTH_PASSWORD may be plaintext or a bcrypt hash.
func NewAuthenticator() *Authenticator {
	enabled := os.Getenv("AUTH_ENABLED") == "true"

	username := os.Getenv("AUTH_USERNAME")
	if username == "" {
		username = "admin"
	}

	var passwordHash []byte
	if enabled {
		password := os.Getenv("AUTH_PASSWORD")
		switch {
		case password == "":
			log.Printf("[Auth] AUTH_ENABLED is set but AUTH_PASSWORD is empty, logins will fail")
		case len(password) == 60 && password[0] == '$':
			passwordHash = []byte(password)
		default:
			hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
			if err == nil {
				passwordHash = hash
			}
		}
	}

	return &Authenticator{
		enabled:      enabled,
		username:     username,
		passwordHash: passwordHash,
		tokens:       NewTokenManager(),
	}
}

// IsEnabled reports whether authentication is turned on.
func (a *Authenticator) IsEnabled() bool {
	return a.enabled
}

// Login validates credentials and issues a bearer token with its expiry as a
// unix timestamp.
func (a *Authenticator) Login(username, password string) (string, int64, error) {
	if !a.enabled {
		return "", 0, ErrAuthDisabled
	}
	if username != a.username || len(a.passwordHash) == 0 {
		return "", 0, ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword(a.passwordHash, []byte(password)); err != nil {
		return "", 0, ErrInvalidCredentials
	}

	token, expiresAt, err := a.tokens.Issue(username)
	if err != nil {
		return "", 0, err
	}
	return token, expiresAt.Unix(), nil
}

// ValidateToken checks a bearer token and returns its claims.
func (a *Authenticator) ValidateToken(token string) (*Claims, error) {
	return a.tokens.Validate(token)
}

// HashPassword creates a bcrypt hash, for provisioning AUTH_PASSWORD.
func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}
