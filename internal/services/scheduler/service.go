// Package scheduler runs the optional background revalidation sweep.
// Cached sessions have no time-based expiry; operators who want
// proactive eviction of dead sessions opt in with a cron schedule.
package scheduler

import (
	"context"
	"fmt"

	"github.com/robfig/cron/v3"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/authrelay/internal/interfaces"
)

// Service sweeps the cookie cache on a cron schedule, probing each
// entry whose platform defines a validation rule and evicting the dead
type Service struct {
	schedule  string
	cache     interfaces.CookieCache
	validator interfaces.SessionValidator
	storage   interfaces.PlatformStorage
	cron      *cron.Cron
	logger    arbor.ILogger
}

// NewService creates a new revalidation scheduler. An empty schedule
// disables the sweep entirely.
func NewService(schedule string, cache interfaces.CookieCache, validator interfaces.SessionValidator, storage interfaces.PlatformStorage, logger arbor.ILogger) *Service {
	return &Service{
		schedule:  schedule,
		cache:     cache,
		validator: validator,
		storage:   storage,
		logger:    logger,
	}
}

// Start registers the sweep with the cron runner. No-op when disabled.
func (s *Service) Start() error {
	if s.schedule == "" {
		s.logger.Debug().Msg("Revalidation sweep disabled (no schedule configured)")
		return nil
	}

	s.cron = cron.New()
	if _, err := s.cron.AddFunc(s.schedule, s.sweep); err != nil {
		return fmt.Errorf("invalid revalidation schedule %q: %w", s.schedule, err)
	}
	s.cron.Start()

	s.logger.Info().Str("schedule", s.schedule).Msg("Revalidation sweep scheduled")
	return nil
}

// Stop halts the cron runner and waits for a running sweep to finish
func (s *Service) Stop() {
	if s.cron != nil {
		ctx := s.cron.Stop()
		<-ctx.Done()
	}
}

// sweep probes every cached entry whose platform has a validation rule.
// Live sessions get their validation metadata bumped; dead ones are
// evicted so the next request triggers a fresh login.
func (s *Service) sweep() {
	ctx := context.Background()
	stats := s.cache.Stats()

	probed, evicted := 0, 0
	for platformID, ps := range stats.Platforms {
		platform, err := s.storage.GetPlatform(ctx, platformID)
		if err != nil {
			// Platform deleted since the entry was cached
			evicted += s.cache.InvalidatePlatform(platformID)
			continue
		}
		if platform.Validation == nil {
			continue
		}

		for _, entryStats := range ps.Entries {
			entry, ok := s.cache.Get(platformID, entryStats.Key)
			if !ok {
				continue
			}
			probed++

			switch s.validator.Validate(ctx, platform, entry.Cookies) {
			case interfaces.SessionValid:
				s.cache.MarkValidated(platformID, entryStats.Key)
			case interfaces.SessionInvalid:
				s.cache.Invalidate(platformID, entryStats.Key)
				evicted++
			case interfaces.SessionUnknown:
				// Probe failure is not proof of death, leave the entry
			}
		}
	}

	if probed > 0 || evicted > 0 {
		s.logger.Info().
			Int("probed", probed).
			Int("evicted", evicted).
			Msg("Revalidation sweep completed")
	}
}
