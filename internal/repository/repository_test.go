package repository

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/opensource-finance/blockaid/internal/domain"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRepo(t *testing.T) *SQLRepository {
	t.Helper()
	repo, err := New(domain.RepositoryConfig{
		Driver:     "sqlite",
		SQLitePath: filepath.Join(t.TempDir(), "blockaid-test.db"),
	})
	require.NoError(t, err)
	t.Cleanup(func() { repo.Close() })
	return repo
}

func testEvent(id, hash string, created time.Time) *domain.DisasterEvent {
	return &domain.DisasterEvent{
		ID:           id,
		DisasterType: "flood",
		Location:     "Dhaka North",
		ImageHash:    hash,
		Predictions:  domain.Predictions{Low: 0.1, Medium: 0.3, High: 0.6},
		Measurements: domain.Measurements{
			RainfallMM:           120,
			WaterLevelCM:         85,
			PopulationAffected:   5000,
			InfrastructureDamage: 65,
			ImpactArea:           35,
		},
		Assessment: domain.SeverityAssessment{
			Components: domain.ComponentScores{ImageAnalysis: 80, RainfallIntensity: 48, WaterLevel: 54.29},
			Weights:    domain.Weights{ImageAnalysis: 0.4, RainfallIntensity: 0.1},
			TotalScore: 62.1,
			Level:      domain.SeverityMedium,
			Confidence: 0.92,
		},
		ReportedBy: "official-1",
		CreatedAt:  created,
		UpdatedAt:  created,
	}
}

func TestSQLiteEvents(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	require.NoError(t, repo.Ping(ctx))

	t.Run("InsertAndGet", func(t *testing.T) {
		ev := testEvent("ev-1", "hash-1", base)
		require.NoError(t, repo.InsertEvent(ctx, ev))

		got, err := repo.GetEvent(ctx, "ev-1")
		require.NoError(t, err)
		assert.Equal(t, ev.Predictions, got.Predictions)
		assert.Equal(t, ev.Measurements, got.Measurements)
		assert.Equal(t, ev.Assessment, got.Assessment)
		assert.False(t, got.IsVerified)
		assert.Nil(t, got.VerifiedAt)
		assert.True(t, base.Equal(got.CreatedAt))

		byHash, err := repo.GetEventByHash(ctx, "hash-1")
		require.NoError(t, err)
		assert.Equal(t, "ev-1", byHash.ID)
	})

	t.Run("DuplicateHashConflicts", func(t *testing.T) {
		err := repo.InsertEvent(ctx, testEvent("ev-dup", "hash-1", base))
		require.Error(t, err)
		assert.ErrorIs(t, err, domain.ErrConflict)
	})

	t.Run("MissingEvent", func(t *testing.T) {
		_, err := repo.GetEvent(ctx, "nope")
		assert.ErrorIs(t, err, domain.ErrNotFound)
		_, err = repo.GetEventByHash(ctx, "nope")
		assert.ErrorIs(t, err, domain.ErrNotFound)
	})

	t.Run("VerifyOnce", func(t *testing.T) {
		at := base.Add(time.Hour)
		require.NoError(t, repo.MarkEventVerified(ctx, "ev-1", "official-2", at))

		got, err := repo.GetEvent(ctx, "ev-1")
		require.NoError(t, err)
		assert.True(t, got.IsVerified)
		assert.Equal(t, "official-2", got.VerifiedBy)
		require.NotNil(t, got.VerifiedAt)
		assert.True(t, at.Equal(*got.VerifiedAt))

		err = repo.MarkEventVerified(ctx, "ev-1", "official-3", at)
		assert.ErrorIs(t, err, domain.ErrConflict)

		err = repo.MarkEventVerified(ctx, "missing", "official-3", at)
		assert.ErrorIs(t, err, domain.ErrNotFound)
	})

	t.Run("ListPagesInCreationOrder", func(t *testing.T) {
		for i := 2; i <= 5; i++ {
			ev := testEvent(fmt.Sprintf("ev-%d", i), fmt.Sprintf("hash-%d", i), base.Add(time.Duration(i)*time.Minute))
			require.NoError(t, repo.InsertEvent(ctx, ev))
		}

		first, total, err := repo.ListEvents(ctx, domain.NewPage(1, 2, 10))
		require.NoError(t, err)
		assert.Equal(t, 5, total)
		require.Len(t, first, 2)
		assert.Equal(t, "ev-1", first[0].ID)
		assert.Equal(t, "ev-2", first[1].ID)

		last, _, err := repo.ListEvents(ctx, domain.NewPage(3, 2, 10))
		require.NoError(t, err)
		require.Len(t, last, 1)
		assert.Equal(t, "ev-5", last[0].ID)

		beyond, _, err := repo.ListEvents(ctx, domain.NewPage(9, 2, 10))
		require.NoError(t, err)
		assert.Empty(t, beyond)
	})

	t.Run("CountAtLocation", func(t *testing.T) {
		n, err := repo.CountEventsAtLocation(ctx, "  dhaka   NORTH ", base.Add(2*time.Minute))
		require.NoError(t, err)
		assert.Equal(t, int64(4), n)

		n, err = repo.CountEventsAtLocation(ctx, "Chittagong", base)
		require.NoError(t, err)
		assert.Zero(t, n)
	})
}

func TestSQLiteFunds(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	now := time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)

	require.NoError(t, repo.InsertEvent(ctx, testEvent("ev-1", "hash-1", now)))

	t.Run("UnknownEvent", func(t *testing.T) {
		err := repo.InsertFund(ctx, &domain.Fund{
			ID: "f-x", EventID: "ghost", TotalAmount: decimal.NewFromInt(10),
			Status: domain.FundApproved, ApprovedBy: "official-1", CreatedAt: now, UpdatedAt: now,
		})
		assert.ErrorIs(t, err, domain.ErrNotFound)
	})

	t.Run("InsertGetList", func(t *testing.T) {
		for i, amount := range []string{"1500.75", "0.10"} {
			fund := &domain.Fund{
				ID:                fmt.Sprintf("f-%d", i),
				EventID:           "ev-1",
				TotalAmount:       decimal.RequireFromString(amount),
				DistributedAmount: decimal.Zero,
				Status:            domain.FundApproved,
				ApprovedBy:        "official-1",
				CreatedAt:         now.Add(time.Duration(i) * time.Second),
				UpdatedAt:         now.Add(time.Duration(i) * time.Second),
			}
			require.NoError(t, repo.InsertFund(ctx, fund))
		}

		got, err := repo.GetFund(ctx, "f-0")
		require.NoError(t, err)
		assert.True(t, decimal.RequireFromString("1500.75").Equal(got.TotalAmount))
		assert.True(t, got.DistributedAmount.IsZero())
		assert.Equal(t, domain.FundApproved, got.Status)

		funds, err := repo.ListFundsByEvent(ctx, "ev-1")
		require.NoError(t, err)
		require.Len(t, funds, 2)
		assert.Equal(t, "f-0", funds[0].ID)
		assert.Equal(t, "f-1", funds[1].ID)

		none, err := repo.ListFundsByEvent(ctx, "other")
		require.NoError(t, err)
		assert.Empty(t, none)

		_, err = repo.GetFund(ctx, "missing")
		assert.ErrorIs(t, err, domain.ErrNotFound)
	})
}

func TestSQLiteAuditIsAppendOnly(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	ts := time.Date(2026, 3, 3, 12, 0, 0, 0, time.UTC)

	for i := 0; i < 3; i++ {
		rec := &domain.AuditRecord{
			ID:         fmt.Sprintf("a-%d", i),
			Action:     domain.ActionCreateEvent,
			EntityType: domain.EntityDisasterEvent,
			EntityID:   fmt.Sprintf("ev-%d", i),
			Actor:      "official-1",
			Details:    map[string]any{"n": i},
			Timestamp:  ts,
		}
		require.NoError(t, repo.AppendAudit(ctx, rec))
		assert.Equal(t, int64(i+1), rec.Sequence)
	}

	records, total, err := repo.ListAudit(ctx, domain.NewPage(1, 20, 20))
	require.NoError(t, err)
	assert.Equal(t, 3, total)
	require.Len(t, records, 3)
	for i, rec := range records {
		assert.Equal(t, fmt.Sprintf("a-%d", i), rec.ID)
		assert.Equal(t, float64(i), rec.Details["n"])
	}

	_, err = repo.db.ExecContext(ctx, `UPDATE audit_logs SET actor = 'mallory'`)
	assert.Error(t, err)
	_, err = repo.db.ExecContext(ctx, `DELETE FROM audit_logs`)
	assert.Error(t, err)

	_, total, err = repo.ListAudit(ctx, domain.NewPage(1, 20, 20))
	require.NoError(t, err)
	assert.Equal(t, 3, total)

	dup := &domain.AuditRecord{ID: "a-0", Action: "X", EntityType: "Y", EntityID: "z", Actor: "u", Timestamp: ts}
	assert.ErrorIs(t, repo.AppendAudit(ctx, dup), domain.ErrConflict)
}

func TestWithTx(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	now := time.Now().UTC()
	boom := errors.New("boom")

	t.Run("RollsBackOnError", func(t *testing.T) {
		err := repo.WithTx(ctx, func(s domain.Store) error {
			if err := s.InsertEvent(ctx, testEvent("ev-rb", "hash-rb", now)); err != nil {
				return err
			}
			return boom
		})
		assert.ErrorIs(t, err, boom)

		_, err = repo.GetEvent(ctx, "ev-rb")
		assert.ErrorIs(t, err, domain.ErrNotFound)
	})

	t.Run("RollsBackOnPanic", func(t *testing.T) {
		assert.Panics(t, func() {
			_ = repo.WithTx(ctx, func(s domain.Store) error {
				_ = s.InsertEvent(ctx, testEvent("ev-panic", "hash-panic", now))
				panic("kaboom")
			})
		})
		_, err := repo.GetEvent(ctx, "ev-panic")
		assert.ErrorIs(t, err, domain.ErrNotFound)
	})

	t.Run("Commits", func(t *testing.T) {
		err := repo.WithTx(ctx, func(s domain.Store) error {
			if err := s.InsertEvent(ctx, testEvent("ev-ok", "hash-ok", now)); err != nil {
				return err
			}
			return s.AppendAudit(ctx, &domain.AuditRecord{
				ID: "a-ok", Action: domain.ActionCreateEvent, EntityType: domain.EntityDisasterEvent,
				EntityID: "ev-ok", Actor: "official-1", Timestamp: now,
			})
		})
		require.NoError(t, err)

		_, err = repo.GetEvent(ctx, "ev-ok")
		require.NoError(t, err)
		_, total, err := repo.ListAudit(ctx, domain.NewPage(1, 10, 10))
		require.NoError(t, err)
		assert.Equal(t, 1, total)
	})
}

func TestSQLiteRuleConfigs(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	upper := 50.0

	rule := &domain.RuleConfig{
		ID:          "high-severity",
		Name:        "High severity",
		Description: "escalates HIGH events",
		Version:     "1.0.0",
		Expression:  "severity_score",
		Bands:       []domain.RuleBand{{UpperLimit: &upper, Outcome: domain.RuleOutcomePass, Reason: "ok"}},
		Weight:      1,
		Enabled:     true,
	}
	require.NoError(t, repo.SaveRuleConfig(ctx, rule))

	got, err := repo.GetRuleConfig(ctx, "high-severity")
	require.NoError(t, err)
	assert.Equal(t, rule, got)

	rule.Weight = 0.5
	require.NoError(t, repo.SaveRuleConfig(ctx, rule))
	got, err = repo.GetRuleConfig(ctx, "high-severity")
	require.NoError(t, err)
	assert.Equal(t, 0.5, got.Weight)

	disabled := *rule
	disabled.ID = "off"
	disabled.Enabled = false
	require.NoError(t, repo.SaveRuleConfig(ctx, &disabled))

	all, err := repo.ListRuleConfigs(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)

	_, err = repo.GetRuleConfig(ctx, "off")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestPostgresErrorMapping(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	repo := NewWithDB(db, "postgres")
	ctx := context.Background()
	now := time.Now().UTC()

	mock.ExpectExec(`INSERT INTO events`).WillReturnError(&pq.Error{Code: "23505", Message: "duplicate key"})
	err = repo.InsertEvent(ctx, testEvent("ev-1", "hash-1", now))
	assert.ErrorIs(t, err, domain.ErrConflict)

	mock.ExpectExec(`INSERT INTO funds`).WillReturnError(&pq.Error{Code: "23503", Message: "fk violation"})
	err = repo.InsertFund(ctx, &domain.Fund{ID: "f", EventID: "ghost", Status: domain.FundApproved, CreatedAt: now, UpdatedAt: now})
	assert.ErrorIs(t, err, domain.ErrNotFound)

	mock.ExpectExec(`INSERT INTO funds`).WillReturnError(&pq.Error{Code: "57P01", Message: "admin shutdown"})
	err = repo.InsertFund(ctx, &domain.Fund{ID: "f", EventID: "ev-1", Status: domain.FundApproved, CreatedAt: now, UpdatedAt: now})
	require.Error(t, err)
	assert.Equal(t, domain.ErrInternal, domain.KindOf(err))

	mock.ExpectQuery(`INSERT INTO audit_logs`).WillReturnRows(sqlmock.NewRows([]string{"seq"}).AddRow(int64(42)))
	rec := &domain.AuditRecord{ID: "a", Action: domain.ActionCreateFund, Timestamp: now}
	require.NoError(t, repo.AppendAudit(ctx, rec))
	assert.Equal(t, int64(42), rec.Sequence)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRebind(t *testing.T) {
	pg := &SQLRepository{driver: "postgres"}
	assert.Equal(t, "SELECT * FROM t WHERE a = $1 AND b = $2", pg.rebind("SELECT * FROM t WHERE a = ? AND b = ?"))

	lite := &SQLRepository{driver: "sqlite"}
	assert.Equal(t, "a = ?", lite.rebind("a = ?"))
}

func TestUnsupportedDriver(t *testing.T) {
	_, err := New(domain.RepositoryConfig{Driver: "oracle"})
	assert.Error(t, err)
}
