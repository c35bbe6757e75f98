package repo

import (
	"context"
	"errors"
	"testing"

	"github.com/casasegura/backend/internal/domain"
)

func TestUser_CreateAndLookups(t *testing.T) {
	db := newRepoDB(t, true)
	ctx := context.Background()
	u := seedUser(t, db, domain.RoleClient)

	got, err := GetUser(ctx, db, u.ID)
	if err != nil || got.Email != u.Email {
		t.Fatalf("GetUser = %+v, %v", got, err)
	}
	if got, err := GetUserByEmail(ctx, db, u.Email); err != nil || got.ID != u.ID {
		t.Fatalf("GetUserByEmail = %+v, %v", got, err)
	}
	if got, err := GetUserByReferralCode(ctx, db, u.ReferralCode); err != nil || got.ID != u.ID {
		t.Fatalf("GetUserByReferralCode = %+v, %v", got, err)
	}
	if _, err := GetUser(ctx, db, "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	dup := *u
	dup.ID = "other"
	dup.ReferralCode = "OTHER123"
	if err := CreateUser(ctx, db, &dup); !IsDuplicate(err) {
		t.Fatalf("expected duplicate email violation, got %v", err)
	}
}

func TestBumpAddressVersion(t *testing.T) {
	db := newRepoDB(t, true)
	ctx := context.Background()
	u := seedUser(t, db, domain.RoleClient)

	for i := 0; i < 3; i++ {
		if err := BumpAddressVersion(ctx, db, u.ID); err != nil {
			t.Fatalf("bump: %v", err)
		}
	}
	got, _ := GetUser(ctx, db, u.ID)
	if got.AddressVersion != 3 {
		t.Fatalf("AddressVersion = %d; want 3", got.AddressVersion)
	}
	if err := BumpAddressVersion(ctx, db, "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestProfessional_CountJobAndRating(t *testing.T) {
	db := newRepoDB(t, true)
	ctx := context.Background()
	u := seedUser(t, db, domain.RoleProfessional)

	if err := CreateProfessional(ctx, db, u.ID); err != nil {
		t.Fatalf("CreateProfessional: %v", err)
	}
	for _, avg := range []float64{4.5, 4.0} {
		if err := CountProfessionalJob(ctx, db, u.ID); err != nil {
			t.Fatalf("CountProfessionalJob: %v", err)
		}
		if err := SetProfessionalRating(ctx, db, u.ID, avg); err != nil {
			t.Fatalf("SetProfessionalRating: %v", err)
		}
	}
	p, err := GetProfessional(ctx, db, u.ID)
	if err != nil {
		t.Fatalf("GetProfessional: %v", err)
	}
	if p.RatingAvg != 4.0 || p.TotalJobs != 2 {
		t.Fatalf("professional = %+v; want avg 4.0, total 2", p)
	}
	if err := CountProfessionalJob(ctx, db, "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestUserRepo_Error_NoTable(t *testing.T) {
	db := newRepoDB(t, false)
	if err := CreateUser(context.Background(), db, &domain.User{ID: "u"}); err == nil {
		t.Fatalf("expected error when table is missing")
	}
	if err := BumpAddressVersion(context.Background(), db, "u"); err == nil || errors.Is(err, ErrNotFound) {
		t.Fatalf("expected raw DB error, got %v", err)
	}
}
