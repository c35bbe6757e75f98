// Chat HTTP handlers.
//
// This file exposes the REST side of chat:
//   - GET  /chat/conversations                      (mine, with unread counts)
//   - POST /chat/conversations                      (get-or-create for a job)
//   - GET  /chat/conversations/{id}
//   - GET  /chat/conversations/{id}/messages        (paginated, ETag)
//   - POST /chat/conversations/{id}/messages        (send; delivered live)
//   - POST /chat/conversations/{id}/read            (mark read; delivered live)
//   - POST /chat/conversations/{id}/attachments     (presigned upload URL)
//   - GET  /chat/unread-count
//
// Writes go through the realtime hub so connected peers get the same events
// they would get had the message been sent over the socket.
package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/casasegura/backend/internal/domain"
	"github.com/casasegura/backend/internal/realtime"
	"github.com/casasegura/backend/internal/services"
	"github.com/casasegura/backend/internal/storage"
)

//
// DTOs
//

// OpenConversationRequest names the job whose conversation to open.
type OpenConversationRequest struct {
	JobID string `json:"jobId" binding:"required" format:"uuid"`
}

// SendMessageRequest is a chat message. Image and file messages carry the
// URL returned by the attachments endpoint.
type SendMessageRequest struct {
	Content string             `json:"content"           example:"Chego às 14h"`
	Type    domain.MessageType `json:"type,omitempty"    example:"text"`
	FileURL string             `json:"fileUrl,omitempty"`
}

// AttachmentRequest describes the file about to be uploaded.
type AttachmentRequest struct {
	ContentType string `json:"contentType" binding:"required" example:"image/jpeg"`
	Size        int64  `json:"size"        binding:"required" example:"204800"`
}

// ConversationsResponse lists the caller's conversations.
type ConversationsResponse struct {
	Conversations []services.ConversationView `json:"conversations"`
}

// MarkReadResponse reports how many messages were flipped to read.
type MarkReadResponse struct {
	ConversationID string `json:"conversationId"`
	Count          int64  `json:"count"`
}

// UnreadCountResponse is the caller's unread total.
type UnreadCountResponse struct {
	Count int64 `json:"count"`
}

// UploadResponse is where and how to PUT an attachment.
type UploadResponse struct {
	UploadURL string             `json:"uploadUrl"`
	FileURL   string             `json:"fileUrl"`
	Type      domain.MessageType `json:"type"`
	ExpiresAt time.Time          `json:"expiresAt"`
	Headers   map[string]string  `json:"headers,omitempty"`
}

func uploadResponse(u *storage.Upload) UploadResponse {
	return UploadResponse{
		UploadURL: u.UploadURL,
		FileURL:   u.FileURL,
		Type:      u.Type,
		ExpiresAt: u.ExpiresAt,
		Headers:   u.Headers,
	}
}

//
// Handlers
//

// ListConversations godoc
// @ID          listConversations
// @Summary     My conversations
// @Description Most recent activity first, each with the caller's unread count.
// @Tags        Chat
// @Produce     json
// @Security    BearerAuth
// @Success     200  {object}  handlers.ConversationsResponse
// @Router      /chat/conversations [get]
func (h *Handlers) ListConversations(c *gin.Context) {
	items, err := h.chat.Conversations(c.Request.Context(), userID(c))
	if err != nil {
		failErr(c, err)
		return
	}
	if items == nil {
		items = []services.ConversationView{}
	}
	ok(c, http.StatusOK, ConversationsResponse{Conversations: items})
}

// OpenConversation godoc
// @ID          openConversation
// @Summary     Open the conversation of a job
// @Description Returns the job's conversation, creating it on first use.
// @Tags        Chat
// @Accept      json
// @Produce     json
// @Security    BearerAuth
// @Param       body  body      handlers.OpenConversationRequest  true  "Job"
// @Success     200   {object}  domain.Conversation
// @Failure     400   {object}  handlers.ErrorResponse  "Job has no professional yet"
// @Failure     403   {object}  handlers.ErrorResponse  "Not a participant"
// @Failure     404   {object}  handlers.ErrorResponse  "Job not found"
// @Router      /chat/conversations [post]
func (h *Handlers) OpenConversation(c *gin.Context) {
	var req OpenConversationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "jobId required")
		return
	}
	conv, err := h.chat.OpenForJob(c.Request.Context(), userID(c), req.JobID)
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusOK, conv)
}

// GetConversation godoc
// @ID          getConversation
// @Summary     Get a conversation
// @Tags        Chat
// @Produce     json
// @Security    BearerAuth
// @Param       id   path      string  true  "Conversation ID"  format(uuid)
// @Success     200  {object}  domain.Conversation
// @Failure     403  {object}  handlers.ErrorResponse  "Not a participant"
// @Failure     404  {object}  handlers.ErrorResponse  "Conversation not found"
// @Router      /chat/conversations/{id} [get]
func (h *Handlers) GetConversation(c *gin.Context) {
	id, valid := pathUUID(c, "id")
	if !valid {
		return
	}
	conv, err := h.chat.Conversation(c.Request.Context(), userID(c), id)
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusOK, conv)
}

// ListMessages godoc
// @ID          listMessages
// @Summary     Messages of a conversation
// @Description Delivery order (seq ascending). Supports If-None-Match.
// @Tags        Chat
// @Produce     json
// @Security    BearerAuth
// @Param       id             path    string  true   "Conversation ID"  format(uuid)
// @Param       page           query   int     false  "Page number"      minimum(1) default(1)
// @Param       page_size      query   int     false  "Items per page"   minimum(1) maximum(200) default(50)
// @Param       If-None-Match  header  string  false  "ETag of a previous response"
// @Success     200  {object}  handlers.ListResponse[domain.Message]
// @Success     304  "Not modified"
// @Failure     403  {object}  handlers.ErrorResponse  "Not a participant"
// @Failure     404  {object}  handlers.ErrorResponse  "Conversation not found"
// @Router      /chat/conversations/{id}/messages [get]
func (h *Handlers) ListMessages(c *gin.Context) {
	ctx := c.Request.Context()
	id, valid := pathUUID(c, "id")
	if !valid {
		return
	}
	uid := userID(c)
	if _, err := h.chat.Conversation(ctx, uid, id); err != nil {
		failErr(c, err)
		return
	}
	page, pageSize := pagination(c, 50, 200)

	// ETag pre-check (best effort).
	if etag, err := h.chat.MessagesETag(ctx, id, page, pageSize); err == nil {
		c.Header("ETag", etag)
		if inm := c.GetHeader("If-None-Match"); inm != "" && inm == etag {
			c.Status(http.StatusNotModified)
			return
		}
	}

	items, meta, err := h.chat.Messages(ctx, uid, id, page, pageSize)
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusOK, list(items, meta))
}

// SendMessage godoc
// @ID          sendMessage
// @Summary     Send a message
// @Description Persists the message and delivers new_message to the room.
// @Tags        Chat
// @Accept      json
// @Produce     json
// @Security    BearerAuth
// @Param       Idempotency-Key  header  string  false  "Idempotency key for safe retries"
// @Param       id    path      string                       true  "Conversation ID"  format(uuid)
// @Param       body  body      handlers.SendMessageRequest  true  "Message"
// @Success     201   {object}  domain.Message
// @Failure     400   {object}  handlers.ErrorResponse  "Empty or invalid message"
// @Failure     403   {object}  handlers.ErrorResponse  "Not a participant"
// @Failure     404   {object}  handlers.ErrorResponse  "Conversation not found"
// @Router      /chat/conversations/{id}/messages [post]
func (h *Handlers) SendMessage(c *gin.Context) {
	id, valid := pathUUID(c, "id")
	if !valid {
		return
	}
	var req SendMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid JSON body")
		return
	}
	m, err := h.live.SendMessage(c.Request.Context(), userID(c), realtime.SendMessage{
		ConversationID: id,
		Content:        req.Content,
		Type:           req.Type,
		FileURL:        req.FileURL,
	})
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusCreated, m)
}

// MarkConversationRead godoc
// @ID          markConversationRead
// @Summary     Mark a conversation read
// @Description Flips every unread message from the other participant to read
// @Description and notifies them with messages_read.
// @Tags        Chat
// @Produce     json
// @Security    BearerAuth
// @Param       id   path      string  true  "Conversation ID"  format(uuid)
// @Success     200  {object}  handlers.MarkReadResponse
// @Failure     403  {object}  handlers.ErrorResponse  "Not a participant"
// @Failure     404  {object}  handlers.ErrorResponse  "Conversation not found"
// @Router      /chat/conversations/{id}/read [post]
func (h *Handlers) MarkConversationRead(c *gin.Context) {
	id, valid := pathUUID(c, "id")
	if !valid {
		return
	}
	n, err := h.live.MarkRead(c.Request.Context(), userID(c), id)
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusOK, MarkReadResponse{ConversationID: id, Count: n})
}

// UnreadCount godoc
// @ID          unreadCount
// @Summary     My unread message count
// @Tags        Chat
// @Produce     json
// @Security    BearerAuth
// @Success     200  {object}  handlers.UnreadCountResponse
// @Router      /chat/unread-count [get]
func (h *Handlers) UnreadCount(c *gin.Context) {
	n, err := h.chat.UnreadCount(c.Request.Context(), userID(c))
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusOK, UnreadCountResponse{Count: n})
}

// CreateAttachment godoc
// @ID          createAttachment
// @Summary     Get an upload URL for an attachment
// @Description Returns a presigned PUT URL. Send the file there, then send a
// @Description message with type and fileUrl from this response.
// @Tags        Chat
// @Accept      json
// @Produce     json
// @Security    BearerAuth
// @Param       id    path      string                      true  "Conversation ID"  format(uuid)
// @Param       body  body      handlers.AttachmentRequest  true  "File"
// @Success     201   {object}  handlers.UploadResponse
// @Failure     400   {object}  handlers.ErrorResponse  "Unsupported type or size, or storage disabled"
// @Failure     403   {object}  handlers.ErrorResponse  "Not a participant"
// @Failure     404   {object}  handlers.ErrorResponse  "Conversation not found"
// @Router      /chat/conversations/{id}/attachments [post]
func (h *Handlers) CreateAttachment(c *gin.Context) {
	id, valid := pathUUID(c, "id")
	if !valid {
		return
	}
	var req AttachmentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "contentType and size are required")
		return
	}
	up, err := h.chat.AttachmentUpload(c.Request.Context(), userID(c), id, req.ContentType, req.Size)
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusCreated, uploadResponse(up))
}
