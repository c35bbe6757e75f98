package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/casasegura/backend/internal/http/middleware"
	"github.com/casasegura/backend/internal/realtime"
)

// ChatSocket godoc
// @ID          chatSocket
// @Summary     Chat websocket
// @Description Upgrades to the realtime chat channel. The access token goes in
// @Description the Authorization header or the token query parameter; a
// @Description missing or invalid token is refused before the upgrade.
// @Tags        Chat
// @Param       token  query  string  false  "Access token when headers cannot be set"
// @Success     101  "Switching protocols"
// @Failure     401  {object}  handlers.ErrorResponse  "Unauthorized"
// @Router      /chat [get]
func (h *Handlers) ChatSocket(c *gin.Context) {
	token := realtime.BearerToken(c.Request)
	if token == "" {
		fail(c, http.StatusUnauthorized, ErrCodeUnauthorized, "missing token")
		return
	}
	id, err := h.tokens.VerifyAccess(token)
	if err != nil {
		fail(c, http.StatusUnauthorized, ErrCodeUnauthorized, "invalid or expired token")
		return
	}

	ws, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// the upgrader already wrote the HTTP error
		middleware.LoggerFrom(c).Debug().Err(err).Msg("websocket upgrade failed")
		c.Abort()
		return
	}
	opts := h.connOpts
	if opts.Logger == nil {
		lg := middleware.LoggerFrom(c).With().Str("user_id", id.UserID).Logger()
		opts.Logger = &lg
	}
	h.live.Serve(h.shutdown, ws, id, opts)
}
