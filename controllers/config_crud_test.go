package controller

import (
	"net/http/httptest"
	"strings"
	"testing"

	"leadpilot/models"
	"leadpilot/utils"

	"github.com/glebarez/sqlite"
	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func newTestApp(t *testing.T) (*fiber.App, *gorm.DB, *models.Tenant) {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(
		&models.Tenant{},
		&models.TimingPolicy{},
		&models.TimingRule{},
		&models.ContentTemplate{},
	))

	tenant := &models.Tenant{Email: "owner@acme.test", PasswordHash: "x", IsActive: true}
	require.NoError(t, db.Create(tenant).Error)

	app := fiber.New()
	app.Use(func(c *fiber.Ctx) error {
		c.Locals("tenant", tenant)
		return c.Next()
	})

	policyController := NewPolicyController(db, utils.NewComponentLogger("policy"))
	templateController := NewTemplateController(db, utils.NewComponentLogger("template"))
	app.Put("/policy", policyController.UpsertPolicy)
	app.Delete("/policy", policyController.DeletePolicy)
	app.Put("/templates", templateController.UpsertTemplate)
	app.Delete("/templates/:stage", templateController.DeleteTemplate)

	return app, db, tenant
}

func doJSON(t *testing.T, app *fiber.App, method, path, body string) int {
	t.Helper()

	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := app.Test(req)
	require.NoError(t, err)
	return resp.StatusCode
}

const policyBody = `{"name":"custom","rules":[
	{"stage":"intro","delay_amount":0,"delay_unit":"minutes"},
	{"stage":"nudge","delay_amount":2,"delay_unit":"days"}
]}`

// A deleted policy override must be re-creatable: the unique tenant_id
// index may not stay occupied by the removed row.
func TestPolicyDeleteThenRecreate(t *testing.T) {
	app, db, tenant := newTestApp(t)

	assert.Equal(t, fiber.StatusOK, doJSON(t, app, "PUT", "/policy", policyBody))
	assert.Equal(t, fiber.StatusOK, doJSON(t, app, "DELETE", "/policy", ""))
	assert.Equal(t, fiber.StatusOK, doJSON(t, app, "PUT", "/policy", policyBody))

	var policies []models.TimingPolicy
	require.NoError(t, db.Unscoped().Where("tenant_id = ?", tenant.ID).Find(&policies).Error)
	require.Len(t, policies, 1)

	var rules []models.TimingRule
	require.NoError(t, db.Where("policy_id = ?", policies[0].ID).Order("position ASC").Find(&rules).Error)
	require.Len(t, rules, 2)
	assert.Equal(t, "intro", rules[0].Stage)
	assert.Equal(t, "nudge", rules[1].Stage)
}

// Same for templates: deleting a stage's template frees the
// (tenant_id, stage) pair for the next write.
func TestTemplateDeleteThenRecreate(t *testing.T) {
	app, db, tenant := newTestApp(t)

	body := `{"stage":"intro","subject":"Hello {{first_name}}","body":"First touch"}`
	assert.Equal(t, fiber.StatusOK, doJSON(t, app, "PUT", "/templates", body))
	assert.Equal(t, fiber.StatusOK, doJSON(t, app, "DELETE", "/templates/intro", ""))

	body = `{"stage":"intro","subject":"Hi {{first_name}}","body":"Rewritten first touch"}`
	assert.Equal(t, fiber.StatusOK, doJSON(t, app, "PUT", "/templates", body))

	var templates []models.ContentTemplate
	require.NoError(t, db.Unscoped().
		Where("tenant_id = ? AND stage = ?", tenant.ID, "intro").
		Find(&templates).Error)
	require.Len(t, templates, 1)
	assert.Equal(t, "Hi {{first_name}}", templates[0].Subject)
}

// Upserting a policy twice replaces the rule list instead of
// accumulating dead rows behind the unique index
func TestPolicyUpsertReplacesRules(t *testing.T) {
	app, db, tenant := newTestApp(t)

	assert.Equal(t, fiber.StatusOK, doJSON(t, app, "PUT", "/policy", policyBody))
	shorter := `{"rules":[{"stage":"intro","delay_amount":1,"delay_unit":"hours"}]}`
	assert.Equal(t, fiber.StatusOK, doJSON(t, app, "PUT", "/policy", shorter))

	var policy models.TimingPolicy
	require.NoError(t, db.Where("tenant_id = ?", tenant.ID).First(&policy).Error)

	var rules []models.TimingRule
	require.NoError(t, db.Unscoped().Where("policy_id = ?", policy.ID).Find(&rules).Error)
	require.Len(t, rules, 1)
	assert.Equal(t, "intro", rules[0].Stage)
	assert.Equal(t, 1, rules[0].DelayAmount)
}
