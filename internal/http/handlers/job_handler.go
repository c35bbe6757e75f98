// Job HTTP handlers.
//
//   - POST  /jobs                 (client creates a job)
//   - GET   /jobs                 (jobs visible to the caller, optional ?status=)
//   - GET   /jobs/{id}
//   - GET   /jobs/{id}/history    (status audit trail)
//   - GET   /jobs/{id}/quotes
//   - POST  /jobs/{id}/quotes     (professional sends a quote)
//   - POST  /jobs/{id}/assign     (admin binds a professional)
//   - PATCH /jobs/{id}/status     (any lifecycle transition)
//
// Who may move a job where is decided by the service's transition table.
package handlers

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/casasegura/backend/internal/domain"
	"github.com/casasegura/backend/internal/services"
)

//
// DTOs
//

// CreateJobRequest is the payload of POST /jobs.
type CreateJobRequest struct {
	Title       string  `json:"title"       binding:"required" example:"Trocar chuveiro"`
	Description string  `json:"description"                    example:"Chuveiro queimado no banheiro social"`
	AddressID   *string `json:"address_id,omitempty"           format:"uuid"`
}

// TransitionRequest asks for a status change.
type TransitionRequest struct {
	Status domain.JobStatus `json:"status" binding:"required" example:"PENDING_QUOTE"`
	// QuoteID picks the quote accepted by QUOTE_ACCEPTED.
	QuoteID string `json:"quote_id,omitempty"`
	// ProfessionalID binds a professional on ASSIGNED.
	ProfessionalID string `json:"professional_id,omitempty"`
}

// SubmitQuoteRequest is a professional's quote, in cents.
type SubmitQuoteRequest struct {
	Amount      int64  `json:"amount"      binding:"required" example:"25000"`
	Description string `json:"description"                    example:"Mão de obra e peças"`
}

// AssignRequest binds a professional to a paid job.
type AssignRequest struct {
	ProfessionalID string `json:"professional_id" binding:"required" format:"uuid"`
}

//
// Handlers
//

// CreateJob godoc
// @ID          createJob
// @Summary     Create a job
// @Tags        Jobs
// @Accept      json
// @Produce     json
// @Security    BearerAuth
// @Param       Idempotency-Key  header  string  false  "Idempotency key for safe retries"
// @Param       body  body      handlers.CreateJobRequest  true  "Job"
// @Success     201   {object}  domain.Job
// @Failure     400   {object}  handlers.ErrorResponse  "Bad request"
// @Failure     403   {object}  handlers.ErrorResponse  "Only clients can create jobs"
// @Router      /jobs [post]
func (h *Handlers) CreateJob(c *gin.Context) {
	var req CreateJobRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "title required")
		return
	}
	j, err := h.jobs.Create(c.Request.Context(), actor(c), services.JobInput{
		Title:       req.Title,
		Description: req.Description,
		AddressID:   req.AddressID,
	})
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusCreated, j)
}

// ListJobs godoc
// @ID          listJobs
// @Summary     List jobs
// @Description Clients see their jobs and professionals the jobs assigned to
// @Description them. A professional filtering by an open status sees every
// @Description job waiting for quotes.
// @Tags        Jobs
// @Produce     json
// @Security    BearerAuth
// @Param       status     query  string  false  "Filter by status"
// @Param       page       query  int     false  "Page number"     minimum(1) default(1)
// @Param       page_size  query  int     false  "Items per page"  minimum(1) maximum(100) default(20)
// @Success     200  {object}  handlers.ListResponse[domain.Job]
// @Failure     400  {object}  handlers.ErrorResponse  "Unknown status"
// @Router      /jobs [get]
func (h *Handlers) ListJobs(c *gin.Context) {
	page, pageSize := pagination(c, 20, 100)
	status := domain.JobStatus(strings.ToUpper(strings.TrimSpace(c.Query("status"))))
	items, meta, err := h.jobs.List(c.Request.Context(), actor(c), status, page, pageSize)
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusOK, list(items, meta))
}

// GetJob godoc
// @ID          getJob
// @Summary     Get a job
// @Tags        Jobs
// @Produce     json
// @Security    BearerAuth
// @Param       id   path      string  true  "Job ID"  format(uuid)
// @Success     200  {object}  domain.Job
// @Failure     403  {object}  handlers.ErrorResponse  "Not a participant"
// @Failure     404  {object}  handlers.ErrorResponse  "Job not found"
// @Router      /jobs/{id} [get]
func (h *Handlers) GetJob(c *gin.Context) {
	id, valid := pathUUID(c, "id")
	if !valid {
		return
	}
	j, err := h.jobs.Get(c.Request.Context(), actor(c), id)
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusOK, j)
}

// JobHistory godoc
// @ID          jobHistory
// @Summary     Status history of a job
// @Tags        Jobs
// @Produce     json
// @Security    BearerAuth
// @Param       id   path      string  true  "Job ID"  format(uuid)
// @Success     200  {array}   domain.JobStatusEvent
// @Failure     403  {object}  handlers.ErrorResponse  "Not a participant"
// @Failure     404  {object}  handlers.ErrorResponse  "Job not found"
// @Router      /jobs/{id}/history [get]
func (h *Handlers) JobHistory(c *gin.Context) {
	id, valid := pathUUID(c, "id")
	if !valid {
		return
	}
	events, err := h.jobs.History(c.Request.Context(), actor(c), id)
	if err != nil {
		failErr(c, err)
		return
	}
	if events == nil {
		events = []domain.JobStatusEvent{}
	}
	ok(c, http.StatusOK, events)
}

// ListQuotes godoc
// @ID          listQuotes
// @Summary     Quotes of a job
// @Tags        Jobs
// @Produce     json
// @Security    BearerAuth
// @Param       id   path      string  true  "Job ID"  format(uuid)
// @Success     200  {array}   domain.Quote
// @Failure     403  {object}  handlers.ErrorResponse  "Not a participant"
// @Failure     404  {object}  handlers.ErrorResponse  "Job not found"
// @Router      /jobs/{id}/quotes [get]
func (h *Handlers) ListQuotes(c *gin.Context) {
	id, valid := pathUUID(c, "id")
	if !valid {
		return
	}
	quotes, err := h.jobs.Quotes(c.Request.Context(), actor(c), id)
	if err != nil {
		failErr(c, err)
		return
	}
	if quotes == nil {
		quotes = []domain.Quote{}
	}
	ok(c, http.StatusOK, quotes)
}

// SubmitQuote godoc
// @ID          submitQuote
// @Summary     Send a quote
// @Description Records the quote and moves the job to QUOTE_SENT.
// @Tags        Jobs
// @Accept      json
// @Produce     json
// @Security    BearerAuth
// @Param       Idempotency-Key  header  string  false  "Idempotency key for safe retries"
// @Param       id    path      string                       true  "Job ID"  format(uuid)
// @Param       body  body      handlers.SubmitQuoteRequest  true  "Quote"
// @Success     201   {object}  domain.Quote
// @Failure     400   {object}  handlers.ErrorResponse  "Bad request or illegal transition"
// @Failure     403   {object}  handlers.ErrorResponse  "Only professionals can send quotes"
// @Failure     404   {object}  handlers.ErrorResponse  "Job not found"
// @Failure     409   {object}  handlers.ErrorResponse  "Concurrent update"
// @Router      /jobs/{id}/quotes [post]
func (h *Handlers) SubmitQuote(c *gin.Context) {
	id, valid := pathUUID(c, "id")
	if !valid {
		return
	}
	var req SubmitQuoteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "amount required")
		return
	}
	q, err := h.jobs.SubmitQuote(c.Request.Context(), actor(c), id, req.Amount, req.Description)
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusCreated, q)
}

// AssignJob godoc
// @ID          assignJob
// @Summary     Assign a professional
// @Description Admin only. Binds the professional and moves PAID to ASSIGNED.
// @Tags        Jobs
// @Accept      json
// @Produce     json
// @Security    BearerAuth
// @Param       id    path      string                  true  "Job ID"  format(uuid)
// @Param       body  body      handlers.AssignRequest  true  "Professional"
// @Success     200   {object}  domain.Job
// @Failure     400   {object}  handlers.ErrorResponse  "Bad request or illegal transition"
// @Failure     403   {object}  handlers.ErrorResponse  "Forbidden"
// @Failure     404   {object}  handlers.ErrorResponse  "Job not found"
// @Router      /jobs/{id}/assign [post]
func (h *Handlers) AssignJob(c *gin.Context) {
	id, valid := pathUUID(c, "id")
	if !valid {
		return
	}
	var req AssignRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "professional_id required")
		return
	}
	j, err := h.jobs.Assign(c.Request.Context(), actor(c), id, req.ProfessionalID)
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusOK, j)
}

// TransitionJob godoc
// @ID          transitionJob
// @Summary     Change a job's status
// @Description Illegal moves for the caller's role answer 400 and leave the
// @Description job untouched. Losing a race with another update answers 409.
// @Tags        Jobs
// @Accept      json
// @Produce     json
// @Security    BearerAuth
// @Param       Idempotency-Key  header  string  false  "Idempotency key for safe retries"
// @Param       id    path      string                      true  "Job ID"  format(uuid)
// @Param       body  body      handlers.TransitionRequest  true  "Target status"
// @Success     200   {object}  domain.Job
// @Failure     400   {object}  handlers.ErrorResponse  "Illegal transition"
// @Failure     403   {object}  handlers.ErrorResponse  "Not a participant"
// @Failure     404   {object}  handlers.ErrorResponse  "Job not found"
// @Failure     409   {object}  handlers.ErrorResponse  "Concurrent update"
// @Router      /jobs/{id}/status [patch]
func (h *Handlers) TransitionJob(c *gin.Context) {
	id, valid := pathUUID(c, "id")
	if !valid {
		return
	}
	var req TransitionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "status required")
		return
	}
	to := domain.JobStatus(strings.ToUpper(strings.TrimSpace(string(req.Status))))
	j, err := h.jobs.Transition(c.Request.Context(), actor(c), id, to, services.TransitionOptions{
		QuoteID:        req.QuoteID,
		ProfessionalID: req.ProfessionalID,
	})
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusOK, j)
}
