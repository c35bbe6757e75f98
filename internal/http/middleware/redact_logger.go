package middleware

import (
	"maps"
	"net/url"
	"regexp"
	"slices"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

// RedactOptions adds headers and query parameters whose values are never
// logged, on top of the built-in ones.
type RedactOptions struct {
	MaskHeaders []string
	MaskParams  []string
	// SlowThreshold raises successful requests slower than this to warn.
	// Zero turns it off.
	SlowThreshold time.Duration
}

var (
	uuidRE  = regexp.MustCompile(`(?i)\b[0-9a-f]{8}-[0-9a-f]{4}-[1-8][0-9a-f]{3}-[89ab][0-9a-f]{3}-[0-9a-f]{12}\b`)
	emailRE = regexp.MustCompile(`(?i)\b[a-z0-9._%+\-]+@[a-z0-9.\-]+\.[a-z]{2,}\b`)
	jwtRE   = regexp.MustCompile(`\beyJ[A-Za-z0-9_-]+\.[A-Za-z0-9_-]+\.[A-Za-z0-9_-]+`)
	// CPF, with or without punctuation.
	cpfRE = regexp.MustCompile(`\b\d{3}\.?\d{3}\.?\d{3}-?\d{2}\b`)
	// Digits only, so hex runs inside ids are left alone.
	phoneRE = regexp.MustCompile(`\b(?:\+?\d{1,3}[ .-]?)?(?:\(?\d{2,4}\)?[ .-]?)?\d{4,5}[ .-]?\d{4}\b`)
)

// redact masks personal data and credentials in free text. Order matters:
// tokens and ids first, phones last as the loosest pattern.
func redact(s string) string {
	if s == "" {
		return s
	}
	s = jwtRE.ReplaceAllString(s, "[REDACTED:token]")
	s = uuidRE.ReplaceAllString(s, "[REDACTED:id]")
	s = emailRE.ReplaceAllString(s, "[REDACTED:email]")
	s = cpfRE.ReplaceAllString(s, "[REDACTED:cpf]")
	s = phoneRE.ReplaceAllString(s, "[REDACTED:phone]")
	return s
}

func lowerSet(base []string, extra []string) map[string]struct{} {
	m := make(map[string]struct{}, len(base)+len(extra))
	for _, list := range [][]string{base, extra} {
		for _, v := range list {
			if v = strings.ToLower(strings.TrimSpace(v)); v != "" {
				m[v] = struct{}{}
			}
		}
	}
	return m
}

// redactQuery masks whole values of sensitive parameters, such as the access
// token of a websocket handshake, and scrubs the rest.
func redactQuery(raw string, mask map[string]struct{}) string {
	if raw == "" {
		return ""
	}
	q, err := url.ParseQuery(raw)
	if err != nil {
		return redact(raw)
	}
	var b strings.Builder
	for _, k := range slices.Sorted(maps.Keys(q)) {
		_, hidden := mask[strings.ToLower(k)]
		for _, v := range q[k] {
			if b.Len() > 0 {
				b.WriteByte('&')
			}
			b.WriteString(redact(k))
			b.WriteByte('=')
			if hidden {
				b.WriteString("[REDACTED]")
			} else {
				b.WriteString(redact(v))
			}
		}
	}
	return b.String()
}

// RedactingLogger is the access logger. Headers and query strings are
// logged with credentials and personal data masked. It stores a logger
// carrying the request id, method and route for LoggerFrom, then writes one
// line once the chain returns.
func RedactingLogger(opts RedactOptions) gin.HandlerFunc {
	maskHeaders := lowerSet([]string{"authorization", "cookie", "set-cookie", "x-api-key"}, opts.MaskHeaders)
	maskParams := lowerSet([]string{"token", "access_token", "refresh_token", "password"}, opts.MaskParams)

	return func(c *gin.Context) {
		start := time.Now()

		path := c.FullPath()
		if path == "" {
			path = redact(c.Request.URL.Path)
		}
		l := log.With().
			Str("request_id", requestID(c)).
			Str("method", c.Request.Method).
			Str("path", path).
			Logger()
		c.Set(loggerKey, &l)

		safeHeaders := make(map[string]string, len(c.Request.Header))
		for k, vv := range c.Request.Header {
			if _, ok := maskHeaders[strings.ToLower(k)]; ok {
				safeHeaders[k] = "[REDACTED]"
				continue
			}
			safeHeaders[k] = redact(strings.Join(vv, ", "))
		}
		safeQuery := truncate(redactQuery(c.Request.URL.RawQuery, maskParams), maxQueryLogLength)

		c.Next()

		latency := time.Since(start)
		accessEvent(&l, c, latency, opts.SlowThreshold).
			Str("query", safeQuery).
			Str("user_id", UserID(c)).
			Str("role", string(Role(c))).
			Str("remote_ip", c.ClientIP()).
			Int("status", c.Writer.Status()).
			Int("bytes", c.Writer.Size()).
			Dur("latency", latency).
			Interface("headers", safeHeaders).
			Msg("http_request")
	}
}
