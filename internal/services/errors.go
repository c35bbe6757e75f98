// Package services holds the business rules of the marketplace: addresses,
// reviews, the job lifecycle, credits and referrals, chat and notifications.
//
// Errors returned by services carry a Kind so that the HTTP and websocket
// layers can map them onto status codes without knowing every sentinel.
// Callers match concrete failures with errors.Is.
package services

import (
	"errors"
	"fmt"

	"github.com/casasegura/backend/internal/domain"
)

// Kind classifies a service error.
type Kind int

const (
	KindInternal Kind = iota
	KindBadRequest
	KindUnauthorized
	KindForbidden
	KindNotFound
	KindConflict
)

func (k Kind) String() string {
	switch k {
	case KindBadRequest:
		return "bad_request"
	case KindUnauthorized:
		return "unauthorized"
	case KindForbidden:
		return "forbidden"
	case KindNotFound:
		return "not_found"
	case KindConflict:
		return "conflict"
	default:
		return "internal_error"
	}
}

// Error is a service failure safe to show to the caller.
type Error struct {
	Kind Kind
	Msg  string
}

func (e *Error) Error() string { return e.Msg }

func newErr(k Kind, msg string) *Error { return &Error{Kind: k, Msg: msg} }

// badRequest builds a one-off validation error.
func badRequest(format string, args ...any) error {
	return newErr(KindBadRequest, fmt.Sprintf(format, args...))
}

// KindOf reports the kind of err, KindInternal for anything unclassified.
func KindOf(err error) Kind {
	var se *Error
	if errors.As(err, &se) {
		return se.Kind
	}
	var te *TransitionError
	if errors.As(err, &te) {
		return KindBadRequest
	}
	return KindInternal
}

// Addresses.
var (
	ErrAddressNotFound  = newErr(KindNotFound, "address not found")
	ErrAddressForbidden = newErr(KindForbidden, "address belongs to another user")
)

// Users and auth.
var (
	ErrUserNotFound       = newErr(KindNotFound, "user not found")
	ErrInvalidCredentials = newErr(KindUnauthorized, "invalid email or password")
	ErrEmailTaken         = newErr(KindConflict, "email already registered")
)

// Jobs and quotes.
var (
	ErrJobNotFound       = newErr(KindNotFound, "job not found")
	ErrJobForbidden      = newErr(KindForbidden, "not a participant of this job")
	ErrIllegalTransition = newErr(KindBadRequest, "illegal status transition")
	ErrInvalidStatus     = newErr(KindBadRequest, "unknown job status")
	ErrQuoteNotFound     = newErr(KindNotFound, "quote not found")
	ErrConcurrentUpdate  = newErr(KindConflict, "resource was modified concurrently, retry")
)

// Reviews.
var (
	ErrReviewNotFound   = newErr(KindNotFound, "review not found")
	ErrReviewForbidden  = newErr(KindForbidden, "only the job's client can review it")
	ErrReviewExists     = newErr(KindConflict, "job already reviewed")
	ErrJobNotReviewable = newErr(KindBadRequest, "job is not in a reviewable status")
	ErrReviewedMismatch = newErr(KindBadRequest, "reviewed user is not the job's professional")
	ErrInvalidRating    = newErr(KindBadRequest, "ratings must be between 1 and 5")
)

// Credits and referrals.
var (
	ErrInvalidAmount       = newErr(KindBadRequest, "amount must be positive")
	ErrJobNotPayable       = newErr(KindBadRequest, "job does not accept credits in its current status")
	ErrReferralCodeInvalid = newErr(KindNotFound, "referral code not found")
	ErrSelfReferral        = newErr(KindBadRequest, "cannot redeem your own referral code")
	ErrAlreadyReferred     = newErr(KindConflict, "a referral code was already redeemed")
)

// Chat and notifications.
var (
	ErrConversationNotFound = newErr(KindNotFound, "conversation not found")
	ErrNotParticipant       = newErr(KindForbidden, "not a participant of this conversation")
	ErrNoProfessional       = newErr(KindBadRequest, "job has no professional yet")
	ErrEmptyMessage         = newErr(KindBadRequest, "message content is empty")
	ErrTooLong              = newErr(KindBadRequest, "message too long")
	ErrInvalidMessageType   = newErr(KindBadRequest, "message type must be text, image or file")
	ErrNotificationNotFound = newErr(KindNotFound, "notification not found")
	ErrAttachmentsDisabled  = newErr(KindBadRequest, "attachments are not configured")
)

// TransitionError reports a status change the lifecycle does not allow for
// the acting role. It matches ErrIllegalTransition.
type TransitionError struct {
	From domain.JobStatus
	To   domain.JobStatus
	Role domain.Role
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("transition %s -> %s not allowed for %s", e.From, e.To, e.Role)
}

func (e *TransitionError) Is(target error) bool { return target == ErrIllegalTransition }
