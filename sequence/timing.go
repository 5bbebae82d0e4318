package sequence

import (
	"time"

	"leadpilot/models"

	"gorm.io/gorm"
)

// Delay is the concrete wait before a stage is sent
type Delay struct {
	Amount int    `json:"amount"`
	Unit   string `json:"unit"`
}

// Duration converts the delay into a time.Duration
func (d Delay) Duration() time.Duration {
	switch d.Unit {
	case models.DelayUnitMinutes:
		return time.Duration(d.Amount) * time.Minute
	case models.DelayUnitHours:
		return time.Duration(d.Amount) * time.Hour
	case models.DelayUnitDays:
		return time.Duration(d.Amount) * 24 * time.Hour
	default:
		return time.Duration(d.Amount) * time.Hour
	}
}

// fallbackDelay is used when neither the tenant nor the global default
// policy has a rule for a stage. Absence of configuration degrades to a
// safe default rather than blocking the sequence.
var fallbackDelay = Delay{Amount: 7, Unit: models.DelayUnitDays}

// TimingResolver turns a stage name into a concrete delay using the
// tenant's timing policy, falling back to the reserved global default.
// It is a pure reader of policy records.
type TimingResolver struct {
	db *gorm.DB
}

func NewTimingResolver(db *gorm.DB) *TimingResolver {
	return &TimingResolver{db: db}
}

func (tr *TimingResolver) loadPolicy(tenantID uint) (*models.TimingPolicy, error) {
	var policy models.TimingPolicy
	err := tr.db.Where("tenant_id = ?", tenantID).
		Preload("Rules", func(db *gorm.DB) *gorm.DB {
			return db.Order("position ASC")
		}).
		First(&policy).Error
	if err != nil {
		return nil, err
	}
	return &policy, nil
}

func ruleFor(policy *models.TimingPolicy, stage string) *models.TimingRule {
	if policy == nil {
		return nil
	}
	for i := range policy.Rules {
		if policy.Rules[i].Stage == stage {
			return &policy.Rules[i]
		}
	}
	return nil
}

// ResolveDelay looks up the delay for a stage: tenant override first,
// then the global default policy, then a hard-coded 7-day fallback.
// It never fails.
func (tr *TimingResolver) ResolveDelay(tenantID uint, stage string) Delay {
	if policy, err := tr.loadPolicy(tenantID); err == nil {
		if rule := ruleFor(policy, stage); rule != nil {
			return Delay{Amount: rule.DelayAmount, Unit: rule.DelayUnit}
		}
	}
	if tenantID != models.DefaultTenantID {
		if policy, err := tr.loadPolicy(models.DefaultTenantID); err == nil {
			if rule := ruleFor(policy, stage); rule != nil {
				return Delay{Amount: rule.DelayAmount, Unit: rule.DelayUnit}
			}
		}
	}
	return fallbackDelay
}

// Stages returns the ordered stage names of the tenant's effective
// schedule: the tenant's own policy if one exists, else the global
// default. An empty slice means nothing is configured at all.
func (tr *TimingResolver) Stages(tenantID uint) []string {
	policy, err := tr.loadPolicy(tenantID)
	if err != nil && tenantID != models.DefaultTenantID {
		policy, err = tr.loadPolicy(models.DefaultTenantID)
	}
	if err != nil || policy == nil {
		return nil
	}

	stages := make([]string, 0, len(policy.Rules))
	for _, rule := range policy.Rules {
		stages = append(stages, rule.Stage)
	}
	return stages
}

// stageIndex returns the position of stage in stages, or -1
func stageIndex(stages []string, stage string) int {
	for i, s := range stages {
		if s == stage {
			return i
		}
	}
	return -1
}
