package task

import (
	"context"
	"time"
)

// janitor periodically evicts terminal tasks older than the retention window.
func (s *Service) janitor(ctx context.Context) {
	defer s.janitorWG.Done()

	ticker := time.NewTicker(s.config.JanitorInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case <-ticker.C:
			s.evictExpired(time.Now())
		}
	}
}

// evictExpired removes terminal tasks that completed before now - retention.
func (s *Service) evictExpired(now time.Time) int {
	cutoff := now.Add(-s.config.Retention)
	removed := s.registry.Evict(cutoff)
	if removed > 0 {
		s.logger.Info("evicted expired tasks",
			"count", removed,
			"retention", s.config.Retention,
			"remaining", s.registry.Len())
	}
	return removed
}
