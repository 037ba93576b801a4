package domain

import (
	"errors"
	"fmt"
	"math"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKindOf(t *testing.T) {
	t.Run("TypedError", func(t *testing.T) {
		err := Conflictf("event.Create", "duplicate image %s", "abc")
		assert.ErrorIs(t, err, ErrConflict)
		assert.Equal(t, ErrConflict, KindOf(err))
		assert.Equal(t, "event.Create: duplicate image abc", err.Error())
	})

	t.Run("OutermostKindWins", func(t *testing.T) {
		inner := NotFoundf("repository.GetEvent", "event missing")
		err := Internal("fund.Create", inner)
		assert.Equal(t, ErrInternal, KindOf(err))
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("WrappedSentinel", func(t *testing.T) {
		err := fmt.Errorf("event 42: %w", ErrNotFound)
		assert.Equal(t, ErrNotFound, KindOf(err))
	})

	t.Run("UnknownIsInternal", func(t *testing.T) {
		assert.Equal(t, ErrInternal, KindOf(errors.New("boom")))
		assert.Nil(t, KindOf(nil))
	})

	t.Run("UnavailableKeepsCause", func(t *testing.T) {
		cause := errors.New("connection refused")
		err := Unavailable("classifier.Classify", cause)
		assert.ErrorIs(t, err, ErrUnavailable)
		assert.ErrorIs(t, err, cause)
		assert.Contains(t, err.Error(), "connection refused")
	})
}

func TestActorCapabilities(t *testing.T) {
	official := Actor{ID: "u-1", Role: RoleOfficial}
	ngo := Actor{ID: "u-2", Role: RoleNGO}
	donor := Actor{ID: "u-3", Role: RoleDonor}

	assert.True(t, official.Can(CapabilityVerify))
	assert.True(t, official.Can(CapabilityApproveFunds))
	assert.True(t, ngo.Can(CapabilityReport))
	assert.False(t, ngo.Can(CapabilityVerify))
	assert.False(t, donor.Can(CapabilityReport))

	t.Run("AnonymousHasNothing", func(t *testing.T) {
		anon := Actor{Role: RoleOfficial}
		assert.False(t, anon.Can(CapabilityVerify))
		err := anon.Require("event.Verify", CapabilityVerify)
		assert.ErrorIs(t, err, ErrForbidden)
		assert.Contains(t, err.Error(), "anonymous")
	})

	t.Run("Require", func(t *testing.T) {
		require.NoError(t, official.Require("fund.Create", CapabilityApproveFunds))
		assert.ErrorIs(t, donor.Require("fund.Create", CapabilityApproveFunds), ErrForbidden)
	})

	t.Run("ParseRole", func(t *testing.T) {
		assert.Equal(t, RoleOfficial, ParseRole(" Official "))
		assert.Equal(t, RoleNGO, ParseRole("ngo"))
		assert.Equal(t, Role(""), ParseRole("admin"))
	})
}

func TestPage(t *testing.T) {
	p := NewPage(0, 0, 10)
	assert.Equal(t, Page{Number: 1, Size: 10}, p)
	assert.Equal(t, 0, p.Offset())

	p = NewPage(3, 500, 20)
	assert.Equal(t, MaxPageSize, p.Size)
	assert.Equal(t, 200, p.Offset())

	p = NewPage(math.MaxInt, 100, 10)
	assert.Equal(t, MaxPageNumber, p.Number)
	assert.Positive(t, p.Offset())
	assert.Equal(t, (MaxPageNumber-1)*MaxPageSize, p.Offset())

	p = NewPage(1, 10, 10)
	assert.Equal(t, 0, p.Pages(0))
	assert.Equal(t, 1, p.Pages(10))
	assert.Equal(t, 2, p.Pages(11))
}

func TestEventDraftMissingFields(t *testing.T) {
	rain, water, infra, area := 10.0, 20.0, 30.0, 40.0
	pop := int64(500)

	complete := EventDraft{
		DisasterType:         "flood",
		Location:             "Dhaka",
		RainfallMM:           &rain,
		WaterLevelCM:         &water,
		PopulationAffected:   &pop,
		InfrastructureDamage: &infra,
		ImpactArea:           &area,
	}
	assert.Empty(t, complete.MissingFields())
	assert.Equal(t, Measurements{
		RainfallMM:           10,
		WaterLevelCM:         20,
		PopulationAffected:   500,
		InfrastructureDamage: 30,
		ImpactArea:           40,
	}, complete.Measurements())

	partial := EventDraft{Location: "Dhaka", RainfallMM: &rain}
	assert.Equal(t, []string{
		"disaster_type",
		"water_level_cm",
		"population_affected",
		"infrastructure_damage",
		"impact_area",
	}, partial.MissingFields())
}

func TestEventDraftInvalidFields(t *testing.T) {
	rain, water, infra, area := 10.0, math.Inf(1), math.NaN(), math.Inf(-1)
	d := EventDraft{
		RainfallMM:           &rain,
		WaterLevelCM:         &water,
		InfrastructureDamage: &infra,
		ImpactArea:           &area,
	}
	assert.Equal(t, []string{"water_level_cm", "infrastructure_damage", "impact_area"}, d.InvalidFields())
	assert.Empty(t, EventDraft{}.InvalidFields())
}

func TestFundValidate(t *testing.T) {
	f := &Fund{
		EventID:           "ev-1",
		TotalAmount:       decimal.NewFromInt(1000),
		DistributedAmount: decimal.Zero,
		Status:            FundApproved,
	}
	require.NoError(t, f.Validate())

	f.DistributedAmount = decimal.NewFromInt(1001)
	assert.ErrorIs(t, f.Validate(), ErrValidation)

	f.DistributedAmount = decimal.Zero
	f.TotalAmount = decimal.NewFromInt(-1)
	assert.ErrorIs(t, f.Validate(), ErrValidation)

	f.TotalAmount = decimal.Zero
	f.Status = "SETTLED"
	assert.ErrorIs(t, f.Validate(), ErrValidation)
}

func TestPredictionsDominant(t *testing.T) {
	assert.Equal(t, SeverityHigh, Predictions{Low: 0.1, Medium: 0.3, High: 0.6}.Dominant())
	assert.Equal(t, SeverityMedium, Predictions{Low: 0.2, Medium: 0.7, High: 0.1}.Dominant())
	assert.Equal(t, SeverityLow, Predictions{Low: 0.9, Medium: 0.05, High: 0.05}.Dominant())
}

func TestWeightsSum(t *testing.T) {
	w := Weights{
		ImageAnalysis:        0.40,
		RainfallIntensity:    0.10,
		WaterLevel:           0.10,
		PopulationAffected:   0.15,
		InfrastructureDamage: 0.15,
		ImpactArea:           0.10,
	}
	assert.InDelta(t, 1.0, w.Sum(), 1e-9)
}
