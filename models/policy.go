package models

import "gorm.io/gorm"

// Delay units accepted in timing rules
const (
	DelayUnitMinutes = "minutes"
	DelayUnitHours   = "hours"
	DelayUnitDays    = "days"
)

// TimingPolicy is a tenant's stage schedule: an ordered list of rules,
// one per stage. At most one policy exists per tenant (unique index);
// the row with TenantID = DefaultTenantID is the reserved global default
// serving every tenant without an override. The rule order also defines
// the stage order of the tenant's outreach sequence.
type TimingPolicy struct {
	gorm.Model
	TenantID uint   `gorm:"not null;uniqueIndex" json:"tenant_id"`
	Name     string `json:"name"`

	// Relations
	Rules []TimingRule `gorm:"foreignKey:PolicyID" json:"rules,omitempty"`
}

// TimingRule maps one stage name to the delay applied before that stage
// is sent. Position orders the rules within a policy.
type TimingRule struct {
	gorm.Model
	PolicyID uint `gorm:"not null;index" json:"policy_id"`

	Position    int    `gorm:"not null" json:"position"`
	Stage       string `gorm:"not null;index" json:"stage"`
	DelayAmount int    `gorm:"not null" json:"delay_amount"`
	DelayUnit   string `gorm:"not null" json:"delay_unit"` // minutes, hours, days
	Description string `json:"description"`
}

// CreateDefaultTimingPolicy seeds the reserved global-default policy if
// it does not exist yet. Sequencing degrades to this schedule for every
// tenant that never configured an override.
func CreateDefaultTimingPolicy(db *gorm.DB) error {
	var existing TimingPolicy
	err := db.Where("tenant_id = ?", DefaultTenantID).First(&existing).Error
	if err == nil {
		return nil
	}
	if err != gorm.ErrRecordNotFound {
		return err
	}

	policy := TimingPolicy{
		TenantID: DefaultTenantID,
		Name:     "default",
		Rules: []TimingRule{
			{Position: 1, Stage: "intro", DelayAmount: 0, DelayUnit: DelayUnitMinutes, Description: "Initial outreach, sent as soon as the lead is enrolled"},
			{Position: 2, Stage: "followup-1", DelayAmount: 3, DelayUnit: DelayUnitDays, Description: "First follow-up"},
			{Position: 3, Stage: "followup-2", DelayAmount: 4, DelayUnit: DelayUnitDays, Description: "Second follow-up"},
			{Position: 4, Stage: "breakup", DelayAmount: 7, DelayUnit: DelayUnitDays, Description: "Final break-up email"},
		},
	}
	return db.Create(&policy).Error
}
