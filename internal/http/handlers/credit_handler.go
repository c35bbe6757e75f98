// Referral and credit HTTP handlers.
//
//   - GET  /referrals/code
//   - POST /referrals/redeem
//   - GET  /referrals/credits/balance
//   - GET  /referrals/credits/transactions
//   - POST /referrals/credits/apply-to-job   (idempotent with Idempotency-Key)
//   - POST /referrals/credits/grant          (admin adjustment)
package handlers

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/casasegura/backend/internal/domain"
)

//
// DTOs
//

// RedeemRequest carries a referral code.
type RedeemRequest struct {
	Code string `json:"code" binding:"required" example:"K7P2QX9A"`
}

// ApplyCreditsRequest spends credits on a job, amounts in cents.
type ApplyCreditsRequest struct {
	JobID     string `json:"jobId"     binding:"required" format:"uuid"`
	JobAmount int64  `json:"jobAmount"                    example:"25000"`
}

// GrantRequest is an admin adjustment of a user's balance.
type GrantRequest struct {
	UserID    string `json:"userId"    binding:"required" format:"uuid"`
	Amount    int64  `json:"amount"                       example:"1500"`
	Reference string `json:"reference"                    example:"ticket 4411"`
}

//
// Handlers
//

// ReferralCode godoc
// @ID          referralCode
// @Summary     My referral code
// @Tags        Referrals
// @Produce     json
// @Security    BearerAuth
// @Success     200  {object}  services.ReferralInfo
// @Failure     404  {object}  handlers.ErrorResponse  "User not found"
// @Router      /referrals/code [get]
func (h *Handlers) ReferralCode(c *gin.Context) {
	info, err := h.referrals.Info(c.Request.Context(), userID(c))
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusOK, info)
}

// RedeemReferral godoc
// @ID          redeemReferral
// @Summary     Redeem a referral code
// @Description Links the caller to the code's owner. Credits are granted
// @Description when the caller's first job is completed.
// @Tags        Referrals
// @Accept      json
// @Produce     json
// @Security    BearerAuth
// @Param       body  body      handlers.RedeemRequest  true  "Code"
// @Success     201   {object}  domain.Referral
// @Failure     400   {object}  handlers.ErrorResponse  "Own code"
// @Failure     404   {object}  handlers.ErrorResponse  "Unknown code"
// @Failure     409   {object}  handlers.ErrorResponse  "Already referred"
// @Router      /referrals/redeem [post]
func (h *Handlers) RedeemReferral(c *gin.Context) {
	var req RedeemRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "code required")
		return
	}
	ref, err := h.referrals.Redeem(c.Request.Context(), userID(c), strings.TrimSpace(req.Code))
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusCreated, ref)
}

// CreditBalance godoc
// @ID          creditBalance
// @Summary     My credit balance
// @Tags        Credits
// @Produce     json
// @Security    BearerAuth
// @Success     200  {object}  domain.CreditBalance
// @Router      /referrals/credits/balance [get]
func (h *Handlers) CreditBalance(c *gin.Context) {
	b, err := h.credits.Balance(c.Request.Context(), userID(c))
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusOK, b)
}

// CreditTransactions godoc
// @ID          creditTransactions
// @Summary     My ledger entries
// @Tags        Credits
// @Produce     json
// @Security    BearerAuth
// @Param       page       query  int  false  "Page number"     minimum(1) default(1)
// @Param       page_size  query  int  false  "Items per page"  minimum(1) maximum(100) default(20)
// @Success     200  {object}  handlers.ListResponse[domain.CreditTransaction]
// @Router      /referrals/credits/transactions [get]
func (h *Handlers) CreditTransactions(c *gin.Context) {
	page, pageSize := pagination(c, 20, 100)
	items, meta, err := h.credits.Transactions(c.Request.Context(), userID(c), page, pageSize)
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusOK, list(items, meta))
}

// ApplyCredits godoc
// @ID          applyCredits
// @Summary     Apply credits to a job
// @Description Spends min(balance, jobAmount, payable) on the job. A zero
// @Description balance succeeds with amountApplied 0. Retries with the same
// @Description Idempotency-Key replay the first result.
// @Tags        Credits
// @Accept      json
// @Produce     json
// @Security    BearerAuth
// @Param       Idempotency-Key  header  string  false  "Idempotency key for safe retries"
// @Param       body  body      handlers.ApplyCreditsRequest  true  "Job and amount"
// @Success     200   {object}  services.ApplyResult
// @Failure     400   {object}  handlers.ErrorResponse  "Bad amount or job status"
// @Failure     403   {object}  handlers.ErrorResponse  "Not the job's client"
// @Failure     404   {object}  handlers.ErrorResponse  "Job not found"
// @Failure     409   {object}  handlers.ErrorResponse  "Concurrent update"
// @Router      /referrals/credits/apply-to-job [post]
func (h *Handlers) ApplyCredits(c *gin.Context) {
	var req ApplyCreditsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "jobId required")
		return
	}
	res, err := h.credits.ApplyToJob(c.Request.Context(), userID(c), req.JobID, req.JobAmount)
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusOK, res)
}

// GrantCredits godoc
// @ID          grantCredits
// @Summary     Adjust a user's credits
// @Description Admin only. Records an ADJUSTMENT ledger entry.
// @Tags        Credits
// @Accept      json
// @Produce     json
// @Security    BearerAuth
// @Param       Idempotency-Key  header  string  false  "Idempotency key for safe retries"
// @Param       body  body      handlers.GrantRequest  true  "Grant"
// @Success     201   {object}  domain.CreditTransaction
// @Failure     400   {object}  handlers.ErrorResponse  "Bad amount"
// @Failure     403   {object}  handlers.ErrorResponse  "Admins only"
// @Router      /referrals/credits/grant [post]
func (h *Handlers) GrantCredits(c *gin.Context) {
	var req GrantRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "userId required")
		return
	}
	reference := strings.TrimSpace(req.Reference)
	if reference == "" {
		reference = "admin:" + userID(c)
	}
	tx, err := h.credits.Grant(c.Request.Context(), req.UserID, domain.CreditAdjustment, req.Amount, reference)
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusCreated, tx)
}
