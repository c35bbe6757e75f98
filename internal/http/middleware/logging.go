// Package middleware holds the Gin middleware shared by the HTTP layer.
//
// The chain in router.go runs RequestID, RedactingLogger and Recovery first,
// so every later middleware and handler can reach a request-scoped logger
// through LoggerFrom.
package middleware

import (
	"net/http"
	"runtime/debug"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const (
	requestIDKey      = "requestID"
	requestIDHeader   = "X-Request-ID"
	loggerKey         = "logger"
	maxQueryLogLength = 2048
	maxRequestIDLen   = 128
)

// validRequestID accepts ids a client may pass through: short and made of
// visible ASCII, so they cannot break a log line.
func validRequestID(s string) bool {
	if s == "" || len(s) > maxRequestIDLen {
		return false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < 0x21 || s[i] > 0x7e {
			return false
		}
	}
	return true
}

// RequestID reuses the caller's X-Request-ID when it is sane and mints a
// UUID otherwise. The id is echoed on the response.
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		rid := c.GetHeader(requestIDHeader)
		if !validRequestID(rid) {
			rid = uuid.NewString()
		}
		c.Set(requestIDKey, rid)
		c.Writer.Header().Set(requestIDHeader, rid)
		c.Next()
	}
}

// requestID prefers the id minted by RequestID, then whatever an earlier
// middleware put on the response.
func requestID(c *gin.Context) string {
	if rid := c.GetString(requestIDKey); rid != "" {
		return rid
	}
	if rid := c.Writer.Header().Get(requestIDHeader); rid != "" {
		return rid
	}
	if rid := c.GetHeader(requestIDHeader); validRequestID(rid) {
		return rid
	}
	return ""
}

// LoggerFrom returns the request-scoped logger, or the global one outside
// an access-logged chain.
func LoggerFrom(c *gin.Context) *zerolog.Logger {
	if v, ok := c.Get(loggerKey); ok {
		if lg, ok := v.(*zerolog.Logger); ok {
			return lg
		}
	}
	l := log.With().Logger()
	if rid := requestID(c); rid != "" {
		l = l.With().Str("request_id", rid).Logger()
	}
	return &l
}

// accessEvent picks the level of the access line: errors attached to the
// context and 5xx log as error, 4xx and slow requests as warn.
func accessEvent(l *zerolog.Logger, c *gin.Context, latency, slow time.Duration) *zerolog.Event {
	status := c.Writer.Status()
	switch {
	case len(c.Errors) > 0:
		return l.Error().Str("errors", c.Errors.String())
	case status >= 500:
		return l.Error()
	case status >= 400:
		return l.Warn()
	case slow > 0 && latency >= slow:
		return l.Warn().Bool("slow", true)
	default:
		return l.Info()
	}
}

// Recovery turns a panic into the JSON 500 envelope. A panic after the body
// was started only sets the status.
func Recovery() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			rec := recover()
			if rec == nil {
				return
			}
			if rec == http.ErrAbortHandler {
				panic(rec)
			}
			panicsRecovered.Inc()
			LoggerFrom(c).Error().
				Interface("panic", rec).
				Bytes("stack", debug.Stack()).
				Str("route", c.FullPath()).
				Msg("panic recovered")

			if c.Writer.Written() {
				c.AbortWithStatus(http.StatusInternalServerError)
				return
			}
			abortJSON(c, http.StatusInternalServerError, "internal_error", "internal server error")
		}()
		c.Next()
	}
}

func truncate(s string, max int) string {
	if max <= 0 || len(s) <= max {
		return s
	}
	return s[:max] + "…"
}
