package services

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/casasegura/backend/internal/domain"
	"github.com/casasegura/backend/internal/repo"
)

// IdempotencyService remembers the response of a keyed write so a retry with
// the same Idempotency-Key gets the original answer instead of a second write.
type IdempotencyService struct {
	DB  *gorm.DB
	TTL time.Duration
	Now func() time.Time
}

func (s *IdempotencyService) now() time.Time {
	if s.Now != nil {
		return s.Now().UTC()
	}
	return time.Now().UTC()
}

// Lookup returns the stored response for (userID, scope, key), or nil when
// there is none or it expired.
func (s *IdempotencyService) Lookup(ctx context.Context, userID, scope, key string) (*domain.Idempotency, error) {
	rec, err := repo.GetIdempotency(ctx, s.DB, userID, scope, key, s.now())
	if errors.Is(err, repo.ErrNotFound) {
		return nil, nil
	}
	return rec, err
}

// Save records a response. When two requests with the same key race, the
// first stored response wins and the second save is a no-op.
func (s *IdempotencyService) Save(ctx context.Context, userID, scope, key string, status int, body []byte) error {
	ttl := s.TTL
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	_, err := repo.CreateIdempotency(ctx, s.DB, userID, scope, key, "", status, body, ttl)
	if errors.Is(err, repo.ErrDuplicate) {
		return nil
	}
	return err
}
