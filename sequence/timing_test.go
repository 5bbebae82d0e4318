package sequence

import (
	"testing"
	"time"

	"leadpilot/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDelayDuration(t *testing.T) {
	assert.Equal(t, 30*time.Minute, Delay{Amount: 30, Unit: models.DelayUnitMinutes}.Duration())
	assert.Equal(t, 6*time.Hour, Delay{Amount: 6, Unit: models.DelayUnitHours}.Duration())
	assert.Equal(t, 72*time.Hour, Delay{Amount: 3, Unit: models.DelayUnitDays}.Duration())
	// Unknown unit degrades to hours
	assert.Equal(t, 2*time.Hour, Delay{Amount: 2, Unit: "fortnights"}.Duration())
}

func TestResolveDelayFallsBackToDefaultPolicy(t *testing.T) {
	db := newTestDB(t)
	tenant := seedTenant(t, db)
	tr := NewTimingResolver(db)

	// No tenant override: the seeded global default applies
	delay := tr.ResolveDelay(tenant.ID, "followup-1")
	assert.Equal(t, Delay{Amount: 3, Unit: models.DelayUnitDays}, delay)
}

func TestResolveDelayPrefersTenantOverride(t *testing.T) {
	db := newTestDB(t)
	tenant := seedTenant(t, db)

	policy := models.TimingPolicy{
		TenantID: tenant.ID,
		Name:     "aggressive",
		Rules: []models.TimingRule{
			{Position: 1, Stage: "intro", DelayAmount: 0, DelayUnit: models.DelayUnitMinutes},
			{Position: 2, Stage: "followup-1", DelayAmount: 12, DelayUnit: models.DelayUnitHours},
		},
	}
	require.NoError(t, db.Create(&policy).Error)

	tr := NewTimingResolver(db)
	delay := tr.ResolveDelay(tenant.ID, "followup-1")
	assert.Equal(t, Delay{Amount: 12, Unit: models.DelayUnitHours}, delay)
}

func TestResolveDelayHardFallback(t *testing.T) {
	db := newTestDB(t)
	tenant := seedTenant(t, db)

	tr := NewTimingResolver(db)
	// Stage unknown to both the tenant and the default policy
	delay := tr.ResolveDelay(tenant.ID, "re-engage")
	assert.Equal(t, Delay{Amount: 7, Unit: models.DelayUnitDays}, delay)
}

func TestStagesFollowRulePositions(t *testing.T) {
	db := newTestDB(t)
	tenant := seedTenant(t, db)
	tr := NewTimingResolver(db)

	// Default schedule
	assert.Equal(t, []string{"intro", "followup-1", "followup-2", "breakup"}, tr.Stages(tenant.ID))

	// Override with positions deliberately inserted out of order
	policy := models.TimingPolicy{TenantID: tenant.ID, Name: "short"}
	require.NoError(t, db.Create(&policy).Error)
	for _, rule := range []models.TimingRule{
		{PolicyID: policy.ID, Position: 2, Stage: "nudge", DelayAmount: 2, DelayUnit: models.DelayUnitDays},
		{PolicyID: policy.ID, Position: 1, Stage: "intro", DelayAmount: 0, DelayUnit: models.DelayUnitMinutes},
	} {
		require.NoError(t, db.Create(&rule).Error)
	}

	assert.Equal(t, []string{"intro", "nudge"}, tr.Stages(tenant.ID))
}

func TestStagesEmptyWithoutAnyPolicy(t *testing.T) {
	db := newTestDB(t)
	tenant := seedTenant(t, db)
	require.NoError(t, db.Where("1 = 1").Delete(&models.TimingRule{}).Error)
	require.NoError(t, db.Where("1 = 1").Delete(&models.TimingPolicy{}).Error)

	tr := NewTimingResolver(db)
	assert.Empty(t, tr.Stages(tenant.ID))
}
