package repo

import (
	"context"
	"testing"
	"time"

	"github.com/casasegura/backend/internal/domain"
)

func TestGetIdempotency_BlankScopeOrKey_ReturnsNotFound(t *testing.T) {
	db := newRepoDB(t, true)
	now := time.Now().UTC()

	if rec, err := GetIdempotency(context.Background(), db, "u1", "   ", "k1", now); rec != nil || err != ErrNotFound {
		t.Fatalf("expected (nil, ErrNotFound) for blank scope, got (%v, %v)", rec, err)
	}
	if rec, err := GetIdempotency(context.Background(), db, "u1", "s", "", now); rec != nil || err != ErrNotFound {
		t.Fatalf("expected (nil, ErrNotFound) for blank key, got (%v, %v)", rec, err)
	}
}

func TestGetIdempotency_ExpiredOrMissing_ReturnsNotFound(t *testing.T) {
	db := newRepoDB(t, true)
	now := time.Now().UTC()

	exp := &domain.Idempotency{
		ID: "expired", UserID: "u1", Scope: "s", Key: "k1", ResourceID: "r", Status: 200,
		CreatedAt: now.Add(-2 * time.Hour), ExpiresAt: now.Add(-time.Hour),
	}
	if err := db.Create(exp).Error; err != nil {
		t.Fatalf("seed expired: %v", err)
	}
	if rec, err := GetIdempotency(context.Background(), db, "u1", "s", "k1", now); rec != nil || err != ErrNotFound {
		t.Fatalf("expected (nil, ErrNotFound) for expired, got (%v, %v)", rec, err)
	}
	if rec, err := GetIdempotency(context.Background(), db, "u1", "s", "missing", now); rec != nil || err != ErrNotFound {
		t.Fatalf("expected (nil, ErrNotFound) for missing, got (%v, %v)", rec, err)
	}

	purged, err := PurgeExpiredIdempotency(context.Background(), db, now)
	if err != nil || purged != 1 {
		t.Fatalf("PurgeExpiredIdempotency = %d, %v; want 1", purged, err)
	}
}

func TestCreateIdempotency_SuccessReplayAndDuplicate(t *testing.T) {
	db := newRepoDB(t, true)
	ctx := context.Background()
	start := time.Now().UTC()
	body := []byte(`{"amount_applied":8000}`)

	rec, err := CreateIdempotency(ctx, db, "u9", "credits.apply:j9", "k9", "j9", 200, body, 90*time.Minute)
	if err != nil {
		t.Fatalf("CreateIdempotency error: %v", err)
	}
	if rec.ID == "" || rec.Scope != "credits.apply:j9" || rec.ResourceID != "j9" || rec.Status != 200 {
		t.Fatalf("unexpected record: %+v", rec)
	}
	if !(rec.ExpiresAt.After(start) && rec.ExpiresAt.Before(start.Add(2*time.Hour))) {
		t.Fatalf("unexpected ExpiresAt: %v", rec.ExpiresAt)
	}

	got, err := GetIdempotency(ctx, db, "u9", "credits.apply:j9", "k9", time.Now().UTC())
	if err != nil || string(got.Body) != string(body) {
		t.Fatalf("replay lookup = %+v, %v", got, err)
	}

	if _, err := CreateIdempotency(ctx, db, "u9", "credits.apply:j9", "k9", "j9", 200, nil, time.Minute); err != ErrDuplicate {
		t.Fatalf("expected ErrDuplicate, got %v", err)
	}
}

func TestCreateIdempotency_Error_NoTable(t *testing.T) {
	db := newRepoDB(t, false)
	if _, err := CreateIdempotency(context.Background(), db, "u", "s", "k", "r", 200, nil, time.Minute); err == nil {
		t.Fatalf("expected error when table is missing")
	}
}
