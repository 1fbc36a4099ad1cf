package transport

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"parley/internal/auth"
)

func TestHandleWebSocketRejectsMissingToken(t *testing.T) {
	tokens := auth.NewTokenManager("test-secret-test-secret-test-secret", time.Hour)
	h := NewHandler(NewHub(), nil, tokens, NewRateLimiter(100))

	rec := httptest.NewRecorder()
	h.HandleWebSocket(rec, httptest.NewRequest(http.MethodGet, "/ws", nil))

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestHandleWebSocketRejectsBadToken(t *testing.T) {
	tokens := auth.NewTokenManager("test-secret-test-secret-test-secret", time.Hour)
	h := NewHandler(NewHub(), nil, tokens, NewRateLimiter(100))

	rec := httptest.NewRecorder()
	h.HandleWebSocket(rec, httptest.NewRequest(http.MethodGet, "/ws?token=garbage", nil))

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestHandleWebSocketRejectsExpiredToken(t *testing.T) {
	expired := auth.NewTokenManager("test-secret-test-secret-test-secret", -time.Minute)
	token, err := expired.Issue("u1", "alice", false)
	require.NoError(t, err)

	h := NewHandler(NewHub(), nil, expired, NewRateLimiter(100))

	rec := httptest.NewRecorder()
	h.HandleWebSocket(rec, httptest.NewRequest(http.MethodGet, "/ws?token="+token, nil))

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}
