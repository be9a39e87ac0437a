// Package auth keeps user accounts and bearer tokens in memory and gates
// HTTP handlers behind them.
package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/mail"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

var (
	ErrUserExists         = errors.New("user already exists")
	ErrInvalidCredentials = errors.New("invalid email or password")
	ErrUnauthorized       = errors.New("unauthorized")
	ErrWeakPassword       = errors.New("password must be at least 8 characters")
	ErrInvalidEmail       = errors.New("invalid email address")
)

// User is a registered account.
type User struct {
	ID        string    `json:"id"`
	Email     string    `json:"email"`
	Name      string    `json:"name,omitempty"`
	CreatedAt time.Time `json:"createdAt"`

	passwordHash []byte
}

// Token is an issued bearer token.
type Token struct {
	Value     string    `json:"token"`
	UserID    string    `json:"userId"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// Store holds users and live tokens.
type Store struct {
	mu      sync.RWMutex
	byEmail map[string]*User
	byID    map[string]*User
	tokens  map[string]Token
	ttl     time.Duration
	now     func() time.Time
}

func NewStore(ttl time.Duration) *Store {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &Store{
		byEmail: make(map[string]*User),
		byID:    make(map[string]*User),
		tokens:  make(map[string]Token),
		ttl:     ttl,
		now:     time.Now,
	}
}

func normalizeEmail(email string) (string, error) {
	addr, err := mail.ParseAddress(strings.TrimSpace(email))
	if err != nil {
		return "", fmt.Errorf("%w: %s", ErrInvalidEmail, email)
	}
	return strings.ToLower(addr.Address), nil
}

// SignUp registers a new account.
func (s *Store) SignUp(email, password, name string) (*User, error) {
	email, err := normalizeEmail(email)
	if err != nil {
		return nil, err
	}
	if len(password) < 8 {
		return nil, ErrWeakPassword
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.byEmail[email]; exists {
		return nil, ErrUserExists
	}
	u := &User{
		ID:           uuid.NewString(),
		Email:        email,
		Name:         name,
		CreatedAt:    s.now(),
		passwordHash: hash,
	}
	s.byEmail[email] = u
	s.byID[u.ID] = u
	return u, nil
}

// SignIn checks the credentials and issues a token.
func (s *Store) SignIn(email, password string) (Token, error) {
	email, err := normalizeEmail(email)
	if err != nil {
		return Token{}, ErrInvalidCredentials
	}

	s.mu.RLock()
	u, ok := s.byEmail[email]
	s.mu.RUnlock()
	if !ok {
		return Token{}, ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword(u.passwordHash, []byte(password)); err != nil {
		return Token{}, ErrInvalidCredentials
	}

	tok := Token{
		Value:     uuid.NewString(),
		UserID:    u.ID,
		ExpiresAt: s.now().Add(s.ttl),
	}
	s.mu.Lock()
	s.tokens[tok.Value] = tok
	s.mu.Unlock()
	return tok, nil
}

// SignOut revokes a token. Unknown tokens are ignored.
func (s *Store) SignOut(token string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.tokens, token)
}

// Resolve returns the user owning a live token.
func (s *Store) Resolve(token string) (*User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tok, ok := s.tokens[token]
	if !ok {
		return nil, ErrUnauthorized
	}
	if !s.now().Before(tok.ExpiresAt) {
		delete(s.tokens, token)
		return nil, ErrUnauthorized
	}
	u, ok := s.byID[tok.UserID]
	if !ok {
		return nil, ErrUnauthorized
	}
	return u, nil
}

// PurgeExpired drops expired tokens and returns how many were removed.
func (s *Store) PurgeExpired() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	n := 0
	for k, tok := range s.tokens {
		if !now.Before(tok.ExpiresAt) {
			delete(s.tokens, k)
			n++
		}
	}
	return n
}

type ctxKey struct{}

// WithUser stores u in ctx.
func WithUser(ctx context.Context, u *User) context.Context {
	return context.WithValue(ctx, ctxKey{}, u)
}

// UserFrom returns the authenticated user stored by Middleware.
func UserFrom(ctx context.Context) (*User, bool) {
	u, ok := ctx.Value(ctxKey{}).(*User)
	return u, ok
}

// BearerToken extracts the token of an "Authorization: Bearer" header.
func BearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	if len(h) > 7 && strings.EqualFold(h[:7], "bearer ") {
		return strings.TrimSpace(h[7:])
	}
	return ""
}

// Middleware rejects requests without a valid bearer token and stores the
// user in the request context otherwise.
func (s *Store) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		u, err := s.Resolve(BearerToken(r))
		if err != nil {
			w.Header().Set("WWW-Authenticate", `Bearer realm="imagepro"`)
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r.WithContext(WithUser(r.Context(), u)))
	})
}
