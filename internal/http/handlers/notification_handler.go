package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
)

// ListNotifications godoc
// @ID          listNotifications
// @Summary     My notifications
// @Tags        Notifications
// @Produce     json
// @Security    BearerAuth
// @Param       unread     query  bool  false  "Only unread ones"
// @Param       page       query  int   false  "Page number"     minimum(1) default(1)
// @Param       page_size  query  int   false  "Items per page"  minimum(1) maximum(100) default(20)
// @Success     200  {object}  handlers.ListResponse[domain.Notification]
// @Router      /notifications [get]
func (h *Handlers) ListNotifications(c *gin.Context) {
	page, pageSize := pagination(c, 20, 100)
	unread, _ := strconv.ParseBool(c.Query("unread"))
	items, meta, err := h.notifications.List(c.Request.Context(), userID(c), unread, page, pageSize)
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusOK, list(items, meta))
}

// MarkNotificationRead godoc
// @ID          markNotificationRead
// @Summary     Mark a notification read
// @Tags        Notifications
// @Produce     json
// @Security    BearerAuth
// @Param       id   path      string  true  "Notification ID"  format(uuid)
// @Success     200  {object}  domain.Notification
// @Failure     404  {object}  handlers.ErrorResponse  "Notification not found"
// @Router      /notifications/{id}/read [patch]
func (h *Handlers) MarkNotificationRead(c *gin.Context) {
	id, valid := pathUUID(c, "id")
	if !valid {
		return
	}
	n, err := h.notifications.MarkRead(c.Request.Context(), userID(c), id)
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusOK, n)
}
