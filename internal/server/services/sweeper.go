package services

import (
	"context"
	"database/sql"
	"time"

	"github.com/dmitrijs2005/capsulekeeper/internal/logging"
	"github.com/dmitrijs2005/capsulekeeper/internal/server/repositories/grantlocks"
	"github.com/dmitrijs2005/capsulekeeper/internal/server/repositories/repomanager"
)

// SweepReport summarizes one maintenance pass.
type SweepReport struct {
	LocksPurged int64
	KeysExpired int64
}

// Sweeper periodically drops expired grant locks and counts keys that expired
// since the previous pass. Nothing depends on it for correctness: key status
// is always derived from timestamps and expired locks are taken over on
// acquisition.
type Sweeper struct {
	db          *sql.DB
	repomanager repomanager.RepositoryManager
	locks       grantlocks.Repository
	interval    time.Duration
	logger      logging.Logger
	now         func() time.Time
	last        time.Time
}

func NewSweeper(db *sql.DB, m repomanager.RepositoryManager, locks grantlocks.Repository, interval time.Duration, logger logging.Logger) *Sweeper {
	return &Sweeper{
		db:          db,
		repomanager: m,
		locks:       locks,
		interval:    interval,
		logger:      logger,
		now:         time.Now,
	}
}

// SweepOnce runs a single pass. Not safe for concurrent use.
func (s *Sweeper) SweepOnce(ctx context.Context) (SweepReport, error) {
	now := s.now().UTC()
	from := s.last
	if from.IsZero() {
		from = now.Add(-s.interval)
	}

	var r SweepReport
	purged, err := s.locks.Purge(ctx, now)
	if err != nil {
		return r, storeErr(err)
	}
	r.LocksPurged = purged

	expired, err := s.repomanager.BurstKeys(s.db).CountExpiredBetween(ctx, from, now)
	if err != nil {
		return r, storeErr(err)
	}
	r.KeysExpired = expired

	s.last = now
	return r, nil
}

// Run sweeps every interval until ctx is cancelled. A non-positive interval
// disables the sweeper.
func (s *Sweeper) Run(ctx context.Context) {
	if s.interval <= 0 {
		s.logger.Info(ctx, "sweeper disabled")
		return
	}

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r, err := s.SweepOnce(ctx)
			if err != nil {
				s.logger.Warn(ctx, "sweep failed", "error", err)
				continue
			}
			if r.LocksPurged > 0 || r.KeysExpired > 0 {
				s.logger.Info(ctx, "sweep done", "locks_purged", r.LocksPurged, "keys_expired", r.KeysExpired)
			}
		}
	}
}
