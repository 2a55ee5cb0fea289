package services

import (
	"context"
	"fmt"
	"time"

	"github.com/go-co-op/gocron/v2"
	"go.uber.org/zap"

	"genify/monitoring"
	"genify/repository"
)

// TrialSweeper flips every trial that has run out to expired. Session
// reads do the same lazily for one user; the sweep keeps stored statuses
// honest for users who never come back.
type TrialSweeper struct {
	users repository.UserRepository
	log   *zap.Logger
	now   func() time.Time
	sched gocron.Scheduler
}

func NewTrialSweeper(users repository.UserRepository, log *zap.Logger) *TrialSweeper {
	return &TrialSweeper{users: users, log: log, now: func() time.Time { return time.Now().UTC() }}
}

// Sweep runs one pass and returns the number of trials expired.
func (s *TrialSweeper) Sweep(ctx context.Context) (int64, error) {
	n, err := s.users.ExpireTrials(ctx, s.now())
	if err != nil {
		return 0, fmt.Errorf("expire trials: %w", err)
	}
	if n > 0 {
		monitoring.TrialsExpired.Add(float64(n))
		s.log.Info("expired trials", zap.Int64("count", n))
	}
	return n, nil
}

// Start schedules Sweep every interval, running once immediately.
func (s *TrialSweeper) Start(interval time.Duration) error {
	sched, err := gocron.NewScheduler()
	if err != nil {
		return fmt.Errorf("new scheduler: %w", err)
	}
	_, err = sched.NewJob(
		gocron.DurationJob(interval),
		gocron.NewTask(func() {
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			if _, err := s.Sweep(ctx); err != nil {
				s.log.Error("trial sweep failed", zap.Error(err))
			}
		}),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
		gocron.WithStartAt(gocron.WithStartImmediately()),
	)
	if err != nil {
		return fmt.Errorf("schedule trial sweep: %w", err)
	}
	sched.Start()
	s.sched = sched
	return nil
}

func (s *TrialSweeper) Stop() error {
	if s.sched == nil {
		return nil
	}
	return s.sched.Shutdown()
}
