// Package middleware contains shared Gin middleware used by the HTTP layer.
//
// This file implements Idempotency-Key handling for writes. The validator
// checks the header and looks up a stored response for the caller; Idempotent
// replays that response or records the first successful one.
//
// A key is scoped by user and by "METHOD /path", so the same key sent to two
// different endpoints names two different operations.
package middleware

import (
	"bytes"
	"context"
	"net/http"
	"regexp"

	"github.com/gin-gonic/gin"

	"github.com/casasegura/backend/internal/domain"
)

// HeaderIdempotencyKey carries the client-chosen key of a write.
const HeaderIdempotencyKey = "Idempotency-Key"

// HeaderIdempotentReplayed marks a response served from the store.
const HeaderIdempotentReplayed = "Idempotent-Replayed"

const (
	ctxKeyIdemKey    = "idem.key"
	ctxKeyIdemScope  = "idem.scope"
	ctxKeyIdemReplay = "idem.replay" // *domain.Idempotency
	ctxKeyRateBypass = "rate.bypass"

	maxRecordedBody = 1 << 20
)

// IdempotencyStore persists responses of keyed writes.
// *services.IdempotencyService implements it.
type IdempotencyStore interface {
	Lookup(ctx context.Context, userID, scope, key string) (*domain.Idempotency, error)
	Save(ctx context.Context, userID, scope, key string, status int, body []byte) error
}

// GetIdempotencyKey returns the validated key of the request, if any.
func GetIdempotencyKey(c *gin.Context) (string, bool) {
	v, ok := c.Get(ctxKeyIdemKey)
	if !ok {
		return "", false
	}
	s, _ := v.(string)
	return s, s != ""
}

// IsReplay reports whether a stored response exists for this request.
func IsReplay(c *gin.Context) bool {
	return replayOf(c) != nil
}

func replayOf(c *gin.Context) *domain.Idempotency {
	v, ok := c.Get(ctxKeyIdemReplay)
	if !ok {
		return nil
	}
	rec, _ := v.(*domain.Idempotency)
	return rec
}

// IdempotencyOptions configures header validation.
type IdempotencyOptions struct {
	// MaxLen caps the key length; <= 0 means 128, the column width.
	MaxLen int
	// Pattern restricts characters; nil means ^[A-Za-z0-9._~\-:]+$.
	Pattern *regexp.Regexp
}

// IdempotencyValidator validates Idempotency-Key when present and, for an
// authenticated caller, looks up a stored response. A hit marks the request
// as a replay and lets it skip rate limiting. Lookup failures are logged and
// the request proceeds normally.
func IdempotencyValidator(opts IdempotencyOptions, store IdempotencyStore) gin.HandlerFunc {
	maxLen := opts.MaxLen
	if maxLen <= 0 {
		maxLen = 128
	}
	pat := opts.Pattern
	if pat == nil {
		pat = regexp.MustCompile(`^[A-Za-z0-9._~\-:]+$`)
	}

	return func(c *gin.Context) {
		key := c.GetHeader(HeaderIdempotencyKey)
		if key == "" {
			c.Next()
			return
		}
		if len(key) > maxLen || !pat.MatchString(key) {
			abortJSON(c, http.StatusBadRequest, "bad_request", "invalid Idempotency-Key")
			return
		}

		scope := c.Request.Method + " " + c.Request.URL.Path
		c.Set(ctxKeyIdemKey, key)
		c.Set(ctxKeyIdemScope, scope)

		if uid := UserID(c); store != nil && uid != "" {
			rec, err := store.Lookup(c.Request.Context(), uid, scope, key)
			if err != nil {
				LoggerFrom(c).Warn().Err(err).Msg("idempotency lookup failed")
			} else if rec != nil {
				c.Set(ctxKeyIdemReplay, rec)
				c.Set(ctxKeyRateBypass, true)
			}
		}
		c.Next()
	}
}

// Idempotent serves stored responses for replays and records the first 2xx
// response of a keyed write. Requests without a key or without a caller are
// not deduplicated.
func Idempotent(store IdempotencyStore) gin.HandlerFunc {
	return func(c *gin.Context) {
		key, ok := GetIdempotencyKey(c)
		uid := UserID(c)
		if !ok || uid == "" || store == nil {
			c.Next()
			return
		}
		if rec := replayOf(c); rec != nil {
			c.Header(HeaderIdempotentReplayed, "true")
			if len(rec.Body) == 0 {
				c.AbortWithStatus(rec.Status)
				return
			}
			c.Data(rec.Status, "application/json; charset=utf-8", rec.Body)
			c.Abort()
			return
		}

		rw := &recordingWriter{ResponseWriter: c.Writer}
		c.Writer = rw
		c.Next()

		status := rw.Status()
		if status < 200 || status >= 300 || rw.overflow {
			return
		}
		scope := c.GetString(ctxKeyIdemScope)
		if err := store.Save(c.Request.Context(), uid, scope, key, status, rw.body.Bytes()); err != nil {
			LoggerFrom(c).Warn().Err(err).Msg("idempotency save failed")
		}
	}
}

// recordingWriter copies the response body while writing it through.
type recordingWriter struct {
	gin.ResponseWriter
	body     bytes.Buffer
	overflow bool
}

func (w *recordingWriter) Write(b []byte) (int, error) {
	w.record(b)
	return w.ResponseWriter.Write(b)
}

func (w *recordingWriter) WriteString(s string) (int, error) {
	w.record([]byte(s))
	return w.ResponseWriter.WriteString(s)
}

func (w *recordingWriter) record(b []byte) {
	if w.overflow {
		return
	}
	if w.body.Len()+len(b) > maxRecordedBody {
		w.overflow = true
		w.body.Reset()
		return
	}
	w.body.Write(b)
}
