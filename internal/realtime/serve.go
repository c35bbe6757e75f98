package realtime

import (
	"context"
	"net/http"
	"net/url"
	"strings"

	"github.com/gorilla/websocket"

	"github.com/casasegura/backend/internal/auth"
)

// NewUpgrader returns a websocket upgrader that accepts requests without an
// Origin header and those whose origin is listed. A "*" entry allows any.
func NewUpgrader(origins []string) *websocket.Upgrader {
	allowed := make(map[string]struct{}, len(origins))
	anyOrigin := false
	for _, o := range origins {
		o = strings.TrimRight(strings.TrimSpace(o), "/")
		if o == "*" {
			anyOrigin = true
		}
		allowed[strings.ToLower(o)] = struct{}{}
	}
	return &websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			if origin == "" || anyOrigin {
				return true
			}
			if u, err := url.Parse(origin); err == nil && strings.EqualFold(u.Host, r.Host) {
				return true
			}
			_, ok := allowed[strings.ToLower(origin)]
			return ok
		},
	}
}

// BearerToken extracts the access token of a handshake: the Authorization
// header first, then the token query parameter browsers have to fall back to.
func BearerToken(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		if len(h) > 7 && strings.EqualFold(h[:7], "bearer ") {
			return strings.TrimSpace(h[7:])
		}
		return ""
	}
	return strings.TrimSpace(r.URL.Query().Get("token"))
}

// Serve runs an upgraded connection of an authenticated user until the peer
// disconnects or ctx ends.
func (h *Hub) Serve(ctx context.Context, ws *websocket.Conn, id auth.Identity, opts ConnOptions) {
	c := newConn(h, ws, id.UserID, id.Role, opts)
	stop := context.AfterFunc(ctx, c.close)
	defer stop()
	c.serve(ctx)
}
