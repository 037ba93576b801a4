package velocity

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/opensource-finance/blockaid/internal/cache"
	"github.com/opensource-finance/blockaid/internal/domain"
	"github.com/opensource-finance/blockaid/internal/repository"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRepo(t *testing.T) *repository.SQLRepository {
	t.Helper()
	repo, err := repository.New(domain.RepositoryConfig{
		Driver:     "sqlite",
		SQLitePath: filepath.Join(t.TempDir(), "velocity.db"),
	})
	require.NoError(t, err)
	t.Cleanup(func() { repo.Close() })
	return repo
}

func insertAt(t *testing.T, repo *repository.SQLRepository, id, location string, at time.Time) {
	t.Helper()
	require.NoError(t, repo.InsertEvent(context.Background(), &domain.DisasterEvent{
		ID:           id,
		DisasterType: "flood",
		Location:     location,
		ImageHash:    "hash-" + id,
		ReportedBy:   "ngo-1",
		CreatedAt:    at,
		UpdatedAt:    at,
	}))
}

// failingCache simulates an unreachable counter backend.
type failingCache struct{ domain.Cache }

func (failingCache) IncrementCounter(context.Context, string, time.Duration) (int64, error) {
	return 0, errors.New("connection refused")
}

func TestCountFromStorage(t *testing.T) {
	repo := newRepo(t)
	ctx := context.Background()
	now := time.Now().UTC()

	for i := 0; i < 3; i++ {
		insertAt(t, repo, fmt.Sprintf("recent-%d", i), "Sylhet", now.Add(-time.Duration(i)*time.Minute))
	}
	insertAt(t, repo, "old", "sylhet", now.Add(-3*time.Hour))
	insertAt(t, repo, "elsewhere", "Dhaka", now)

	svc := NewService(repo, nil, time.Hour)

	n, err := svc.Count(ctx, "  SYLHET ")
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)

	n, err = svc.Observe(ctx, "Sylhet")
	require.NoError(t, err)
	assert.Equal(t, int64(3), n, "without a cache Observe reads storage")

	n, err = svc.Count(ctx, "Chittagong")
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestObserveWithCache(t *testing.T) {
	svc := NewService(nil, cache.NewLRUCache(100), time.Hour)
	ctx := context.Background()

	for want := int64(1); want <= 4; want++ {
		n, err := svc.Observe(ctx, "Cox's Bazar")
		require.NoError(t, err)
		assert.Equal(t, want, n)
	}

	// Case and spacing fold into the same counter.
	n, err := svc.Observe(ctx, "cox's   BAZAR")
	require.NoError(t, err)
	assert.Equal(t, int64(5), n)

	n, err = svc.Observe(ctx, "Khulna")
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestObserveFallsBackToStorage(t *testing.T) {
	repo := newRepo(t)
	insertAt(t, repo, "e1", "Barisal", time.Now().UTC())

	svc := NewService(repo, failingCache{}, time.Hour)
	n, err := svc.Observe(context.Background(), "barisal")
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestObserveValidation(t *testing.T) {
	svc := NewService(nil, nil, 0)
	assert.Equal(t, time.Hour, svc.Window())

	_, err := svc.Observe(context.Background(), "   ")
	assert.Error(t, err)

	_, err = svc.Count(context.Background(), "x")
	assert.Error(t, err)
}
