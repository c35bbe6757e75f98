package services

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"github.com/casasegura/backend/internal/repo"
)

// Sweeper runs periodic housekeeping: guarantee windows and expired
// idempotency records.
type Sweeper struct {
	Jobs     *JobService
	DB       *gorm.DB
	Interval time.Duration
	Batch    int
	Now      func() time.Time
}

// Run sweeps once immediately and then on every tick until ctx is done.
// A non-positive Interval disables the sweeper.
func (s *Sweeper) Run(ctx context.Context) {
	if s.Interval <= 0 {
		log.Info().Msg("sweeper disabled")
		return
	}
	t := time.NewTicker(s.Interval)
	defer t.Stop()
	for {
		s.Once(ctx)
		select {
		case <-ctx.Done():
			return
		case <-t.C:
		}
	}
}

// Once performs a single sweep.
func (s *Sweeper) Once(ctx context.Context) {
	if s.Jobs != nil {
		n, err := s.Jobs.SweepGuarantees(ctx, s.Batch)
		if err != nil {
			log.Error().Err(err).Msg("guarantee sweep failed")
		} else if n > 0 {
			log.Info().Int("jobs", n).Msg("guarantee sweep")
		}
	}
	if s.DB != nil {
		now := time.Now
		if s.Now != nil {
			now = s.Now
		}
		n, err := repo.PurgeExpiredIdempotency(ctx, s.DB, now().UTC())
		if err != nil {
			log.Error().Err(err).Msg("idempotency purge failed")
		} else if n > 0 {
			log.Debug().Int64("rows", n).Msg("idempotency purge")
		}
	}
}
