package sequence

import (
	"strings"
	"time"

	"leadpilot/models"

	"gorm.io/gorm"
)

// Content is the resolved subject and body for one send
type Content struct {
	Subject string `json:"subject"`
	Body    string `json:"body"`
}

// ContentResolver turns a stage and a lead into subject/body text. An
// unconsumed AI draft for the (lead, stage) pair wins; otherwise the
// stage's template is rendered, falling back to the global template when
// the tenant has none. Rendering is deterministic: the same draft and
// template state produces byte-identical output on every call.
type ContentResolver struct {
	db *gorm.DB
}

func NewContentResolver(db *gorm.DB) *ContentResolver {
	return &ContentResolver{db: db}
}

// Resolve produces the content for the lead's current stage. A usable
// draft is marked consumed via a conditional update; losing that race
// simply falls through to the template path.
func (cr *ContentResolver) Resolve(tenant *models.Tenant, lead *models.Lead, stage string) (Content, error) {
	var draft models.GeneratedDraft
	err := cr.db.Where("lead_id = ? AND stage = ? AND consumed = ?", lead.ID, stage, false).
		Order("id DESC").
		First(&draft).Error
	if err == nil && draft.Subject != "" && draft.Body != "" {
		res := cr.db.Model(&models.GeneratedDraft{}).
			Where("id = ? AND consumed = ?", draft.ID, false).
			Updates(map[string]interface{}{
				"consumed":    true,
				"consumed_at": time.Now(),
			})
		if res.Error != nil {
			return Content{}, res.Error
		}
		if res.RowsAffected > 0 {
			return Content{Subject: draft.Subject, Body: draft.Body}, nil
		}
		// Another worker consumed it first; fall through to the template
	} else if err != nil && err != gorm.ErrRecordNotFound {
		return Content{}, err
	}

	tpl, err := cr.templateFor(tenant.ID, stage)
	if err != nil {
		return Content{}, err
	}
	if tpl == nil {
		return Content{}, ErrContentUnavailable
	}

	return RenderTemplate(tpl, tenant, lead), nil
}

// Peek renders what Resolve would produce without consuming a draft.
// Used by the template preview endpoint.
func (cr *ContentResolver) Peek(tenant *models.Tenant, lead *models.Lead, stage string) (Content, error) {
	var draft models.GeneratedDraft
	err := cr.db.Where("lead_id = ? AND stage = ? AND consumed = ?", lead.ID, stage, false).
		Order("id DESC").
		First(&draft).Error
	if err == nil && draft.Subject != "" && draft.Body != "" {
		return Content{Subject: draft.Subject, Body: draft.Body}, nil
	}
	if err != nil && err != gorm.ErrRecordNotFound {
		return Content{}, err
	}

	tpl, err := cr.templateFor(tenant.ID, stage)
	if err != nil {
		return Content{}, err
	}
	if tpl == nil {
		return Content{}, ErrContentUnavailable
	}
	return RenderTemplate(tpl, tenant, lead), nil
}

func (cr *ContentResolver) templateFor(tenantID uint, stage string) (*models.ContentTemplate, error) {
	var tpl models.ContentTemplate
	err := cr.db.Where("tenant_id = ? AND stage = ? AND is_active = ?", tenantID, stage, true).
		First(&tpl).Error
	if err == gorm.ErrRecordNotFound && tenantID != models.DefaultTenantID {
		err = cr.db.Where("tenant_id = ? AND stage = ? AND is_active = ?", models.DefaultTenantID, stage, true).
			First(&tpl).Error
	}
	if err == gorm.ErrRecordNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &tpl, nil
}

// RenderTemplate substitutes the recognized variables into subject, body,
// signature and media block and concatenates the result. Pure function.
func RenderTemplate(tpl *models.ContentTemplate, tenant *models.Tenant, lead *models.Lead) Content {
	subject := substitute(tpl.Subject, tenant, lead)
	body := substitute(tpl.Body, tenant, lead)

	if sig := substitute(tpl.Signature, tenant, lead); sig != "" {
		body += "\n\n" + sig
	} else if tenant.Signature != "" {
		body += "\n\n" + substitute(tenant.Signature, tenant, lead)
	}
	if tpl.MediaBlock != "" {
		body += "\n\n" + substitute(tpl.MediaBlock, tenant, lead)
	}

	return Content{Subject: subject, Body: body}
}

func substitute(s string, tenant *models.Tenant, lead *models.Lead) string {
	if s == "" {
		return ""
	}
	r := strings.NewReplacer(
		"{{first_name}}", lead.FirstName,
		"{{last_name}}", lead.LastName,
		"{{full_name}}", lead.FullName(),
		"{{company}}", lead.Company,
		"{{position}}", lead.Position,
		"{{email}}", lead.Email,
		"{{website}}", lead.Website,
		"{{sender_name}}", tenant.FromName,
		"{{sender_email}}", tenant.FromEmail,
		"{{sender_company}}", tenant.CompanyName,
	)
	return r.Replace(s)
}
