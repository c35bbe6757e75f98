// Review HTTP handlers.
//
// A job gets at most one review, written by its client once the work is
// done. The professional listing is public so prospective clients can read
// it before signing up.
package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/casasegura/backend/internal/domain"
	"github.com/casasegura/backend/internal/utils"
)

// CreateReviewRequest is the payload of POST /reviews.
type CreateReviewRequest struct {
	JobID      string `json:"jobId"      binding:"required" format:"uuid"`
	ReviewedID string `json:"reviewedId" binding:"required" format:"uuid"`
	// Scores go from 1 to 5; only overall is required.
	RatingOverall       int    `json:"ratingOverall"                  example:"5"`
	RatingQuality       *int   `json:"ratingQuality,omitempty"        example:"5"`
	RatingPunctuality   *int   `json:"ratingPunctuality,omitempty"    example:"4"`
	RatingCommunication *int   `json:"ratingCommunication,omitempty"  example:"5"`
	Comment             string `json:"comment"                        example:"Serviço impecável"`
}

// CreateReview godoc
// @ID          createReview
// @Summary     Review a job
// @Description The caller must be the job's client, the job must be
// @Description COMPLETED, IN_GUARANTEE or CLOSED and not reviewed yet.
// @Tags        Reviews
// @Accept      json
// @Produce     json
// @Security    BearerAuth
// @Param       Idempotency-Key  header  string  false  "Idempotency key for safe retries"
// @Param       body  body      handlers.CreateReviewRequest  true  "Review"
// @Success     201   {object}  domain.Review
// @Failure     400   {object}  handlers.ErrorResponse  "Invalid ratings or job status"
// @Failure     403   {object}  handlers.ErrorResponse  "Not the job's client"
// @Failure     404   {object}  handlers.ErrorResponse  "Job not found"
// @Failure     409   {object}  handlers.ErrorResponse  "Job already reviewed"
// @Router      /reviews [post]
func (h *Handlers) CreateReview(c *gin.Context) {
	var req CreateReviewRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "jobId and reviewedId are required")
		return
	}
	r, err := h.reviews.Create(c.Request.Context(), req.JobID, userID(c), req.ReviewedID, domain.Ratings{
		Overall:       req.RatingOverall,
		Quality:       req.RatingQuality,
		Punctuality:   req.RatingPunctuality,
		Communication: req.RatingCommunication,
	}, req.Comment)
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusCreated, r)
}

// ReviewByJob godoc
// @ID          reviewByJob
// @Summary     Review of a job
// @Tags        Reviews
// @Produce     json
// @Security    BearerAuth
// @Param       jobId  path      string  true  "Job ID"  format(uuid)
// @Success     200    {object}  domain.Review
// @Failure     404    {object}  handlers.ErrorResponse  "Review not found"
// @Router      /reviews/job/{jobId} [get]
func (h *Handlers) ReviewByJob(c *gin.Context) {
	jobID, valid := pathUUID(c, "jobId")
	if !valid {
		return
	}
	r, err := h.reviews.ByJob(c.Request.Context(), jobID)
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusOK, r)
}

// MyReviews godoc
// @ID          myReviews
// @Summary     Reviews I wrote or received
// @Tags        Reviews
// @Produce     json
// @Security    BearerAuth
// @Param       type  query     string  false  "given or received"  Enums(given, received) default(received)
// @Success     200   {array}   domain.Review
// @Failure     400   {object}  handlers.ErrorResponse  "Bad type"
// @Router      /reviews/my [get]
func (h *Handlers) MyReviews(c *gin.Context) {
	items, err := h.reviews.ByUser(c.Request.Context(), userID(c), c.Query("type"))
	if err != nil {
		failErr(c, err)
		return
	}
	if items == nil {
		items = []domain.Review{}
	}
	ok(c, http.StatusOK, items)
}

// ProfessionalReviews godoc
// @ID          professionalReviews
// @Summary     Reviews a professional received
// @Description Public. Pages with skip/take; meta.page is skip/take+1.
// @Tags        Reviews
// @Produce     json
// @Param       userId  path      string  true   "Professional user ID"  format(uuid)
// @Param       skip    query     int     false  "Rows to skip"          minimum(0) default(0)
// @Param       take    query     int     false  "Rows to return"        minimum(1) maximum(100) default(10)
// @Success     200     {object}  handlers.ListResponse[domain.Review]
// @Router      /reviews/professional/{userId} [get]
func (h *Handlers) ProfessionalReviews(c *gin.Context) {
	uid, valid := pathUUID(c, "userId")
	if !valid {
		return
	}
	skip := utils.AtoiDefault(c.Query("skip"), 0)
	take := utils.AtoiDefault(c.Query("take"), 10)
	items, meta, err := h.reviews.ByProfessional(c.Request.Context(), uid, skip, take)
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusOK, list(items, meta))
}
