package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"regexp"
	"strings"
	"sync"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"

	"github.com/casasegura/backend/internal/domain"
)

type memStore struct {
	mu      sync.Mutex
	recs    map[string]*domain.Idempotency
	lookups int
	failGet bool
}

func newMemStore() *memStore { return &memStore{recs: map[string]*domain.Idempotency{}} }

func (s *memStore) Lookup(_ context.Context, userID, scope, key string) (*domain.Idempotency, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lookups++
	if s.failGet {
		return nil, errors.New("db down")
	}
	return s.recs[userID+"|"+scope+"|"+key], nil
}

func (s *memStore) Save(_ context.Context, userID, scope, key string, status int, body []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := userID + "|" + scope + "|" + key
	if _, ok := s.recs[k]; !ok {
		s.recs[k] = &domain.Idempotency{UserID: userID, Scope: scope, Key: key, Status: status, Body: append([]byte(nil), body...)}
	}
	return nil
}

func asUser(uid string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if uid != "" {
			c.Set(ctxKeyUserID, uid)
		}
		c.Next()
	}
}

// newIdemRouter wires the validator and recorder around a handler that
// counts executions and answers with the count.
func newIdemRouter(store IdempotencyStore, uid string, status int) (*gin.Engine, *int) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	calls := 0
	r.Use(asUser(uid), IdempotencyValidator(IdempotencyOptions{}, store), Idempotent(store))
	r.POST("/jobs/:id/quotes", func(c *gin.Context) {
		calls++
		c.JSON(status, gin.H{"call": calls})
	})
	return r, &calls
}

func post(r http.Handler, path, key string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(`{}`))
	if key != "" {
		req.Header.Set(HeaderIdempotencyKey, key)
	}
	r.ServeHTTP(w, req)
	return w
}

func TestIdempotency_ReplaysFirstResponse(t *testing.T) {
	store := newMemStore()
	r, calls := newIdemRouter(store, "u1", http.StatusCreated)

	first := post(r, "/jobs/j1/quotes", "k-1")
	require.Equal(t, http.StatusCreated, first.Code)
	require.Empty(t, first.Header().Get(HeaderIdempotentReplayed))

	again := post(r, "/jobs/j1/quotes", "k-1")
	require.Equal(t, http.StatusCreated, again.Code)
	require.Equal(t, "true", again.Header().Get(HeaderIdempotentReplayed))
	require.JSONEq(t, first.Body.String(), again.Body.String())
	require.Equal(t, 1, *calls)

	// Same key on another resource is another operation.
	other := post(r, "/jobs/j2/quotes", "k-1")
	require.JSONEq(t, `{"call":2}`, other.Body.String())
	require.Equal(t, 2, *calls)
}

func TestIdempotency_NoKeyOrNoUserNotRecorded(t *testing.T) {
	store := newMemStore()
	r, calls := newIdemRouter(store, "u1", http.StatusCreated)
	post(r, "/jobs/j1/quotes", "")
	post(r, "/jobs/j1/quotes", "")
	require.Equal(t, 2, *calls)
	require.Zero(t, store.lookups)

	anon, anonCalls := newIdemRouter(store, "", http.StatusCreated)
	post(anon, "/jobs/j1/quotes", "k")
	post(anon, "/jobs/j1/quotes", "k")
	require.Equal(t, 2, *anonCalls)
	require.Empty(t, store.recs)
}

func TestIdempotency_FailuresAreNotRecorded(t *testing.T) {
	store := newMemStore()
	r, calls := newIdemRouter(store, "u1", http.StatusConflict)
	post(r, "/jobs/j1/quotes", "k")
	w := post(r, "/jobs/j1/quotes", "k")
	require.Equal(t, http.StatusConflict, w.Code)
	require.Equal(t, 2, *calls)
	require.Empty(t, store.recs)
}

func TestIdempotency_LookupErrorFallsThrough(t *testing.T) {
	store := newMemStore()
	store.failGet = true
	r, calls := newIdemRouter(store, "u1", http.StatusOK)
	w := post(r, "/jobs/j1/quotes", "k")
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, 1, *calls)
}

func TestIdempotencyValidator_RejectsBadKeys(t *testing.T) {
	gin.SetMode(gin.TestMode)
	for name, tc := range map[string]struct {
		opts IdempotencyOptions
		key  string
	}{
		"too long":    {IdempotencyOptions{MaxLen: 5}, "abcdef"},
		"pattern":     {IdempotencyOptions{Pattern: regexp.MustCompile(`^[0-9]+$`)}, "abc"},
		"spaces":      {IdempotencyOptions{}, "a b"},
		"default 128": {IdempotencyOptions{}, strings.Repeat("a", 129)},
	} {
		t.Run(name, func(t *testing.T) {
			r := gin.New()
			r.Use(IdempotencyValidator(tc.opts, nil))
			r.POST("/x", func(c *gin.Context) { c.Status(http.StatusOK) })
			w := post(r, "/x", tc.key)
			require.Equal(t, http.StatusBadRequest, w.Code)
			require.Contains(t, w.Body.String(), `"code":"bad_request"`)
		})
	}
}

func TestIdempotencyValidator_MarksReplayAndBypass(t *testing.T) {
	gin.SetMode(gin.TestMode)
	store := newMemStore()
	require.NoError(t, store.Save(context.Background(), "u9", "POST /x", "k-9", 200, []byte(`{}`)))

	r := gin.New()
	r.Use(asUser("u9"), IdempotencyValidator(IdempotencyOptions{}, store))
	r.POST("/x", func(c *gin.Context) {
		key, ok := GetIdempotencyKey(c)
		require.True(t, ok)
		require.Equal(t, "k-9", key)
		require.True(t, IsReplay(c))
		require.True(t, IsRateBypass(c))
		c.Status(http.StatusOK)
	})
	require.Equal(t, http.StatusOK, post(r, "/x", "k-9").Code)
}

func TestRecordingWriterOverflow(t *testing.T) {
	gin.SetMode(gin.TestMode)
	c, _ := gin.CreateTestContext(httptest.NewRecorder())
	w := &recordingWriter{ResponseWriter: c.Writer}
	_, _ = w.WriteString("ok")
	require.Equal(t, "ok", w.body.String())
	_, _ = w.Write(make([]byte, maxRecordedBody))
	require.True(t, w.overflow)
	require.Zero(t, w.body.Len())
}
