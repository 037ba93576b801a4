// Package velocity measures how many reports arrive from one location.
package velocity

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/opensource-finance/blockaid/internal/domain"
)

const counterPrefix = "location:"

// Service counts reports per location inside a window.
type Service struct {
	repo   domain.Store
	cache  domain.Cache
	window time.Duration
	now    func() time.Time
}

// NewService creates a velocity service. cache may be nil, in which case
// every count goes to storage.
func NewService(repo domain.Store, cache domain.Cache, window time.Duration) *Service {
	if window <= 0 {
		window = time.Hour
	}
	return &Service{repo: repo, cache: cache, window: window, now: time.Now}
}

// Window returns the counting window.
func (s *Service) Window() time.Duration {
	return s.window
}

// Observe records one report at location and returns the number of
// reports seen there inside the window, this one included.
func (s *Service) Observe(ctx context.Context, location string) (int64, error) {
	key := domain.LocationKey(location)
	if key == "" {
		return 0, fmt.Errorf("location is required")
	}

	if s.cache != nil {
		n, err := s.cache.IncrementCounter(ctx, counterPrefix+key, s.window)
		if err == nil {
			return n, nil
		}
		slog.Warn("velocity counter unavailable, counting from storage",
			"location", key,
			"error", err,
		)
	}
	return s.Count(ctx, location)
}

// Count returns the number of stored events at location inside the window
// without recording anything.
func (s *Service) Count(ctx context.Context, location string) (int64, error) {
	if s.repo == nil {
		return 0, fmt.Errorf("no data source available")
	}

	since := s.now().Add(-s.window)
	n, err := s.repo.CountEventsAtLocation(ctx, location, since)
	if err != nil {
		return 0, fmt.Errorf("failed to count events: %w", err)
	}
	return n, nil
}
