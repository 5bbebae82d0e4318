package models

import "gorm.io/gorm"

// ContentTemplate is the static fallback content for one stage. Unique on
// (tenant_id, stage): a write that would duplicate the pair updates the
// existing row instead (see TemplateController.UpsertTemplate).
type ContentTemplate struct {
	gorm.Model
	TenantID uint   `gorm:"not null;index:idx_templates_tenant_stage,unique" json:"tenant_id"`
	Stage    string `gorm:"not null;index:idx_templates_tenant_stage,unique" json:"stage"`

	Subject    string `gorm:"not null" json:"subject"`
	Prompt     string `gorm:"type:text" json:"prompt"` // prompt handed to the generation backend
	Body       string `gorm:"type:text" json:"body"`
	Signature  string `gorm:"type:text" json:"signature"`
	MediaBlock string `gorm:"type:text" json:"media_block"`
	IsActive   bool   `gorm:"default:true" json:"is_active"`
}

// CreateDefaultContentTemplates seeds the reserved global-fallback
// templates, one per default stage, if the reserved tenant has none yet.
// Content resolution falls back to these for tenants that never wrote
// their own template for a stage.
func CreateDefaultContentTemplates(db *gorm.DB) error {
	var count int64
	if err := db.Model(&ContentTemplate{}).
		Where("tenant_id = ?", DefaultTenantID).Count(&count).Error; err != nil {
		return err
	}
	if count > 0 {
		return nil
	}

	templates := []ContentTemplate{
		{
			TenantID: DefaultTenantID,
			Stage:    "intro",
			Subject:  "Quick question, {{first_name}}",
			Body:     "Hi {{first_name}},\n\nI came across {{company}} and wanted to reach out. Would you be open to a short call this week?",
			IsActive: true,
		},
		{
			TenantID: DefaultTenantID,
			Stage:    "followup-1",
			Subject:  "Re: Quick question, {{first_name}}",
			Body:     "Hi {{first_name}},\n\nFollowing up on my last note. Is this something {{company}} is thinking about?",
			IsActive: true,
		},
		{
			TenantID: DefaultTenantID,
			Stage:    "followup-2",
			Subject:  "Re: Quick question, {{first_name}}",
			Body:     "Hi {{first_name}},\n\nI know things get busy. Happy to share a short overview if that is easier than a call.",
			IsActive: true,
		},
		{
			TenantID: DefaultTenantID,
			Stage:    "breakup",
			Subject:  "Closing the loop, {{first_name}}",
			Body:     "Hi {{first_name}},\n\nI have not heard back, so I will stop here. If the timing changes for {{company}}, just reply to this email.",
			IsActive: true,
		},
	}
	return db.Create(&templates).Error
}
