package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSignUpAndSignIn(t *testing.T) {
	s := NewStore(time.Hour)

	u, err := s.SignUp(" Alice@Example.com ", "correct horse", "Alice")
	require.NoError(t, err)
	assert.Equal(t, "alice@example.com", u.Email)
	assert.NotEmpty(t, u.ID)

	_, err = s.SignUp("alice@example.com", "another password", "")
	assert.ErrorIs(t, err, ErrUserExists)

	_, err = s.SignUp("bob@example.com", "short", "")
	assert.ErrorIs(t, err, ErrWeakPassword)

	_, err = s.SignUp("not-an-email", "long enough", "")
	assert.ErrorIs(t, err, ErrInvalidEmail)

	_, err = s.SignIn("alice@example.com", "wrong password")
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	_, err = s.SignIn("nobody@example.com", "correct horse")
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	tok, err := s.SignIn("ALICE@example.com", "correct horse")
	require.NoError(t, err)
	assert.Equal(t, u.ID, tok.UserID)

	got, err := s.Resolve(tok.Value)
	require.NoError(t, err)
	assert.Equal(t, u, got)

	s.SignOut(tok.Value)
	_, err = s.Resolve(tok.Value)
	assert.ErrorIs(t, err, ErrUnauthorized)
}

func TestTokenExpiry(t *testing.T) {
	s := NewStore(time.Minute)
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return now }

	_, err := s.SignUp("carol@example.com", "password123", "")
	require.NoError(t, err)
	tok, err := s.SignIn("carol@example.com", "password123")
	require.NoError(t, err)

	now = now.Add(59 * time.Second)
	_, err = s.Resolve(tok.Value)
	assert.NoError(t, err)

	now = now.Add(time.Second)
	_, err = s.Resolve(tok.Value)
	assert.ErrorIs(t, err, ErrUnauthorized)

	tok2, _ := s.SignIn("carol@example.com", "password123")
	now = now.Add(2 * time.Minute)
	assert.Equal(t, 1, s.PurgeExpired())
	_, err = s.Resolve(tok2.Value)
	assert.ErrorIs(t, err, ErrUnauthorized)
}

func TestMiddleware(t *testing.T) {
	s := NewStore(time.Hour)
	_, err := s.SignUp("dave@example.com", "password123", "")
	require.NoError(t, err)
	tok, err := s.SignIn("dave@example.com", "password123")
	require.NoError(t, err)

	h := s.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		u, ok := UserFrom(r.Context())
		require.True(t, ok)
		w.Write([]byte(u.Email))
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/stats", nil)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.NotEmpty(t, w.Header().Get("WWW-Authenticate"))

	req = httptest.NewRequest(http.MethodGet, "/api/stats", nil)
	req.Header.Set("Authorization", "Bearer "+tok.Value)
	w = httptest.NewRecorder()
	h.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "dave@example.com", w.Body.String())
}

func TestBearerToken(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	assert.Empty(t, BearerToken(req))

	req.Header.Set("Authorization", "bearer  abc ")
	assert.Equal(t, "abc", BearerToken(req))

	req.Header.Set("Authorization", "Basic abc")
	assert.Empty(t, BearerToken(req))
}
