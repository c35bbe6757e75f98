package services

import (
	"errors"
	"fmt"
	"testing"

	"github.com/casasegura/backend/internal/domain"
)

func TestKindOf(t *testing.T) {
	cases := []struct {
		err  error
		want Kind
	}{
		{ErrAddressNotFound, KindNotFound},
		{fmt.Errorf("wrap: %w", ErrReviewForbidden), KindForbidden},
		{ErrReviewExists, KindConflict},
		{ErrInvalidCredentials, KindUnauthorized},
		{badRequest("bad %s", "thing"), KindBadRequest},
		{&TransitionError{From: domain.StatusCreated, To: domain.StatusPaid, Role: domain.RoleClient}, KindBadRequest},
		{errors.New("boom"), KindInternal},
	}
	for _, tc := range cases {
		if got := KindOf(tc.err); got != tc.want {
			t.Errorf("KindOf(%v) = %v, want %v", tc.err, got, tc.want)
		}
	}
}

func TestTransitionError_MatchesSentinel(t *testing.T) {
	err := fmt.Errorf("ctx: %w", &TransitionError{From: domain.StatusClosed, To: domain.StatusCreated, Role: domain.RoleAdmin})
	if !errors.Is(err, ErrIllegalTransition) {
		t.Fatalf("expected errors.Is(ErrIllegalTransition)")
	}
	if want := "transition CLOSED -> CREATED not allowed for admin"; err.Error() != "ctx: "+want {
		t.Fatalf("message = %q", err.Error())
	}
}
