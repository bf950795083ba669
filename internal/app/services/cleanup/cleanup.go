// Package cleanup runs scheduled retention jobs: purging read
// notifications past their retention window and expired sessions.
package cleanup

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/lanternhq/lantern-api/internal/app/system"
	"github.com/lanternhq/lantern-api/internal/auth"
	"github.com/lanternhq/lantern-api/pkg/logger"
)

var _ system.Service = (*Service)(nil)

// NotificationPurger removes read notifications older than the cutoff.
type NotificationPurger interface {
	PurgeRead(ctx context.Context, cutoff time.Time) (int64, error)
}

// Service schedules retention jobs with cron.
type Service struct {
	purger    NotificationPurger
	sessions  auth.SessionStore
	log       *logger.Logger
	schedule  string
	retention time.Duration

	cron *cron.Cron
}

// New creates a cleanup service. schedule uses standard five-field cron
// syntax; retention bounds how long read notifications are kept.
func New(purger NotificationPurger, sessions auth.SessionStore, schedule string, retention time.Duration, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("cleanup")
	}
	if schedule == "" {
		schedule = "0 3 * * *"
	}
	if retention <= 0 {
		retention = 90 * 24 * time.Hour
	}
	return &Service{
		purger:    purger,
		sessions:  sessions,
		log:       log,
		schedule:  schedule,
		retention: retention,
	}
}

func (s *Service) Name() string { return "cleanup" }

func (s *Service) Start(context.Context) error {
	if s.cron != nil {
		return nil
	}

	c := cron.New()
	if _, err := c.AddFunc(s.schedule, s.run); err != nil {
		return fmt.Errorf("schedule %q: %w", s.schedule, err)
	}
	c.Start()
	s.cron = c

	s.log.WithField("schedule", s.schedule).Info("cleanup scheduled")
	return nil
}

func (s *Service) Stop(ctx context.Context) error {
	if s.cron == nil {
		return nil
	}
	stopCtx := s.cron.Stop()
	s.cron = nil

	select {
	case <-stopCtx.Done():
	case <-ctx.Done():
		return ctx.Err()
	}
	return nil
}

// run executes one retention pass. Exported through RunOnce for tests and
// the seed tool.
func (s *Service) run() {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()
	s.RunOnce(ctx)
}

// RunOnce performs a single retention pass.
func (s *Service) RunOnce(ctx context.Context) {
	cutoff := time.Now().Add(-s.retention)
	purged, err := s.purger.PurgeRead(ctx, cutoff)
	if err != nil {
		s.log.WithError(err).Warn("purge read notifications")
	} else if purged > 0 {
		s.log.WithField("purged", purged).Info("read notifications purged")
	}

	if s.sessions != nil {
		removed, err := s.sessions.DeleteExpired(ctx)
		if err != nil {
			s.log.WithError(err).Warn("purge expired sessions")
		} else if removed > 0 {
			s.log.WithField("removed", removed).Info("expired sessions purged")
		}
	}
}
