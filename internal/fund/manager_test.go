package fund

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/opensource-finance/blockaid/internal/audit"
	"github.com/opensource-finance/blockaid/internal/bus"
	"github.com/opensource-finance/blockaid/internal/domain"
	"github.com/opensource-finance/blockaid/internal/repository"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	official = domain.Actor{ID: "official-1", Role: domain.RoleOfficial}
	ngo      = domain.Actor{ID: "ngo-1", Role: domain.RoleNGO}
)

func setup(t *testing.T) (*Manager, *repository.SQLRepository, *bus.ChannelBus) {
	t.Helper()

	repo, err := repository.New(domain.RepositoryConfig{
		Driver:     "sqlite",
		SQLitePath: filepath.Join(t.TempDir(), "funds.db"),
	})
	require.NoError(t, err)
	t.Cleanup(func() { repo.Close() })

	b := bus.NewChannelBus(16)
	t.Cleanup(func() { b.Close() })

	return NewManager(repo, b, audit.NewTrail(repo)), repo, b
}

func seedEvent(t *testing.T, repo *repository.SQLRepository, id string, verified bool) {
	t.Helper()
	ctx := context.Background()

	now := time.Now().UTC().Truncate(time.Microsecond)
	require.NoError(t, repo.InsertEvent(ctx, &domain.DisasterEvent{
		ID:           id,
		DisasterType: "cyclone",
		Location:     "Cox's Bazar",
		ImageHash:    "hash-" + id,
		Assessment:   domain.SeverityAssessment{TotalScore: 75, Level: domain.SeverityHigh, Confidence: 0.8},
		ReportedBy:   "ngo-1",
		CreatedAt:    now,
		UpdatedAt:    now,
	}))
	if verified {
		require.NoError(t, repo.MarkEventVerified(ctx, id, "official-1", now))
	}
}

func TestCreateFund(t *testing.T) {
	mgr, repo, b := setup(t)
	ctx := context.Background()

	published := make(chan domain.Notification, 1)
	_, err := b.Subscribe(ctx, domain.TopicFundCreated, func(_ context.Context, msg *domain.Message) error {
		var n domain.Notification
		if err := json.Unmarshal(msg.Payload, &n); err != nil {
			return err
		}
		published <- n
		return nil
	})
	require.NoError(t, err)

	seedEvent(t, repo, "ev-pending", false)
	seedEvent(t, repo, "ev-verified", true)

	t.Run("RequiresCapability", func(t *testing.T) {
		_, err := mgr.Create(ctx, "ev-verified", decimal.NewFromInt(10), ngo)
		assert.ErrorIs(t, err, domain.ErrForbidden)
	})

	t.Run("NegativeAmount", func(t *testing.T) {
		_, err := mgr.Create(ctx, "ev-verified", decimal.NewFromInt(-1), official)
		assert.ErrorIs(t, err, domain.ErrValidation)
	})

	t.Run("UnknownEvent", func(t *testing.T) {
		_, err := mgr.Create(ctx, "ev-ghost", decimal.NewFromInt(10), official)
		assert.ErrorIs(t, err, domain.ErrNotFound)
	})

	t.Run("UnverifiedEvent", func(t *testing.T) {
		_, err := mgr.Create(ctx, "ev-pending", decimal.NewFromInt(10), official)
		assert.ErrorIs(t, err, domain.ErrValidation)
	})

	t.Run("Approved", func(t *testing.T) {
		amount := decimal.RequireFromString("250000.75")
		f, err := mgr.Create(ctx, "ev-verified", amount, official)
		require.NoError(t, err)

		assert.Equal(t, domain.FundApproved, f.Status)
		assert.True(t, f.TotalAmount.Equal(amount))
		assert.True(t, f.DistributedAmount.IsZero())
		assert.Equal(t, "official-1", f.ApprovedBy)

		got, err := mgr.Get(ctx, f.ID)
		require.NoError(t, err)
		assert.True(t, got.TotalAmount.Equal(amount))
		assert.Equal(t, "ev-verified", got.EventID)

		select {
		case n := <-published:
			assert.Equal(t, f.ID, n.EntityID)
			require.NotNil(t, n.Fund)
		case <-time.After(2 * time.Second):
			t.Fatal("no fund notification")
		}
	})

	t.Run("ZeroAmount", func(t *testing.T) {
		f, err := mgr.Create(ctx, "ev-verified", decimal.Zero, official)
		require.NoError(t, err)
		assert.True(t, f.TotalAmount.IsZero())
	})

	records, total, err := repo.ListAudit(ctx, domain.NewPage(1, 20, 20))
	require.NoError(t, err)
	require.Equal(t, 2, total)
	assert.Equal(t, domain.ActionCreateFund, records[0].Action)
	assert.Equal(t, domain.EntityDisasterFund, records[0].EntityType)
	assert.Equal(t, "250000.75", records[0].Details["amount"])
	assert.Equal(t, "ev-verified", records[0].Details["event_id"])
}

func TestGetAndListByEvent(t *testing.T) {
	mgr, repo, _ := setup(t)
	ctx := context.Background()

	_, err := mgr.Get(ctx, "missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	_, err = mgr.ListByEvent(ctx, "missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	seedEvent(t, repo, "ev-1", true)

	funds, err := mgr.ListByEvent(ctx, "ev-1")
	require.NoError(t, err)
	assert.Empty(t, funds)

	for _, amt := range []int64{100, 200} {
		_, err := mgr.Create(ctx, "ev-1", decimal.NewFromInt(amt), official)
		require.NoError(t, err)
	}

	funds, err = mgr.ListByEvent(ctx, "ev-1")
	require.NoError(t, err)
	assert.Len(t, funds, 2)
}
