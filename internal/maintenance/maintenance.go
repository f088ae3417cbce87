// Package maintenance runs the periodic housekeeping jobs: admission ledger
// sweeps, rate limiter pruning, and idle conversation close-out.
package maintenance

import (
	"context"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/botlerhq/botler/internal/conversation"
	"github.com/botlerhq/botler/internal/idempotency"
	"github.com/botlerhq/botler/internal/ratelimit"
)

// Config carries the job schedules. Patterns use the standard cron syntax,
// including descriptors such as "@hourly" and "@every 10m".
type Config struct {
	SweepSchedule string
	PruneSchedule string
	IdleSchedule  string
	// IdleAfter is how long a conversation may sit without inbound traffic
	// before the close-out job closes it.
	IdleAfter time.Duration
}

// Service owns the cron scheduler and the registered jobs.
type Service struct {
	cron     *cron.Cron
	log      *slog.Logger
	idem     idempotency.Store
	machine  *conversation.Machine
	limiters []*ratelimit.Limiter
	cfg      Config
	now      func() time.Time
}

// NewService creates the housekeeping service. Empty schedules get defaults;
// a zero IdleAfter disables the idle close-out job.
func NewService(log *slog.Logger, idem idempotency.Store, machine *conversation.Machine, cfg Config, limiters ...*ratelimit.Limiter) *Service {
	if cfg.SweepSchedule == "" {
		cfg.SweepSchedule = "@hourly"
	}
	if cfg.PruneSchedule == "" {
		cfg.PruneSchedule = "@every 10m"
	}
	if cfg.IdleSchedule == "" {
		cfg.IdleSchedule = "@daily"
	}
	return &Service{
		cron:     cron.New(),
		log:      log.With(slog.String("service", "maintenance")),
		idem:     idem,
		machine:  machine,
		limiters: limiters,
		cfg:      cfg,
		now:      time.Now,
	}
}

// Start registers the jobs and starts the scheduler.
func (s *Service) Start() error {
	if _, err := s.cron.AddFunc(s.cfg.SweepSchedule, func() { s.SweepLedger(context.Background()) }); err != nil {
		return err
	}
	if _, err := s.cron.AddFunc(s.cfg.PruneSchedule, func() { s.PruneLimiters() }); err != nil {
		return err
	}
	if s.cfg.IdleAfter > 0 {
		if _, err := s.cron.AddFunc(s.cfg.IdleSchedule, func() { s.CloseIdle(context.Background()) }); err != nil {
			return err
		}
	}
	s.cron.Start()
	return nil
}

// Stop halts the scheduler and waits for running jobs to finish.
func (s *Service) Stop() {
	<-s.cron.Stop().Done()
}

// SweepLedger drops admission records past retention.
func (s *Service) SweepLedger(ctx context.Context) {
	removed, err := s.idem.Sweep(ctx)
	if err != nil {
		s.log.Error("ledger sweep failed", slog.Any("error", err))
		return
	}
	if removed > 0 {
		s.log.Info("ledger sweep", slog.Int("removed", removed))
	}
}

// PruneLimiters drops idle token buckets from every registered limiter.
func (s *Service) PruneLimiters() {
	total := 0
	for _, l := range s.limiters {
		total += l.Prune()
	}
	if total > 0 {
		s.log.Info("limiter prune", slog.Int("removed", total))
	}
}

// CloseIdle closes conversations with no inbound traffic for IdleAfter.
func (s *Service) CloseIdle(ctx context.Context) {
	cutoff := s.now().Add(-s.cfg.IdleAfter)
	closed, err := s.machine.CloseIdle(ctx, cutoff)
	if err != nil {
		s.log.Error("idle close failed", slog.Any("error", err))
		return
	}
	if closed > 0 {
		s.log.Info("idle conversations closed", slog.Int("count", closed))
	}
}

// SetClock overrides the time source for tests.
func (s *Service) SetClock(now func() time.Time) {
	s.now = now
}
