package utils

import (
	"encoding/json"
	"fmt"
	"time"

	"leadpilot/config"
	"leadpilot/models"

	"github.com/valyala/fasthttp"
	"gorm.io/gorm"
)

// GeneratorClient talks to the external content-generation backend. The
// backend may fail or be unavailable; callers tolerate absence and the
// content resolver falls back to static templates.
type GeneratorClient struct {
	db     *gorm.DB
	client *fasthttp.Client
}

func NewGeneratorClient(db *gorm.DB) *GeneratorClient {
	return &GeneratorClient{
		db: db,
		client: &fasthttp.Client{
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 10 * time.Second,
		},
	}
}

type generateRequest struct {
	TenantID uint   `json:"tenant_id"`
	LeadID   uint   `json:"lead_id"`
	Stage    string `json:"stage"`
	Prompt   string `json:"prompt"`
}

type generateResponse struct {
	Subject string `json:"subject"`
	Body    string `json:"body"`
}

// RequestDraft asks the backend for content and stores the result as an
// unconsumed GeneratedDraft for the (lead, stage) pair. Any previous
// unconsumed draft for the pair is superseded (marked consumed).
func (gc *GeneratorClient) RequestDraft(tenant *models.Tenant, lead *models.Lead, stage, prompt string) (*models.GeneratedDraft, error) {
	cfg := config.AppConfig
	if cfg.GeneratorURL == "" {
		return nil, fmt.Errorf("content generation backend not configured")
	}

	payload, err := json.Marshal(generateRequest{
		TenantID: tenant.ID,
		LeadID:   lead.ID,
		Stage:    stage,
		Prompt:   prompt,
	})
	if err != nil {
		return nil, err
	}

	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI(cfg.GeneratorURL)
	req.Header.SetMethod(fasthttp.MethodPost)
	req.Header.SetContentType("application/json")
	if cfg.GeneratorAPIKey != "" {
		req.Header.Set("Authorization", "Bearer "+cfg.GeneratorAPIKey)
	}
	req.SetBody(payload)

	if err := gc.client.Do(req, resp); err != nil {
		return nil, fmt.Errorf("generation backend unreachable: %w", err)
	}
	if resp.StatusCode() != fasthttp.StatusOK {
		return nil, fmt.Errorf("generation backend returned status %d", resp.StatusCode())
	}

	var out generateResponse
	if err := json.Unmarshal(resp.Body(), &out); err != nil {
		return nil, fmt.Errorf("invalid generation response: %w", err)
	}

	return gc.StoreDraft(tenant.ID, lead.ID, stage, out.Subject, out.Body)
}

// StoreDraft persists a draft, superseding any unconsumed draft for the
// same (lead, stage). Also used by the async delivery webhook.
func (gc *GeneratorClient) StoreDraft(tenantID, leadID uint, stage, subject, body string) (*models.GeneratedDraft, error) {
	draft := &models.GeneratedDraft{
		TenantID: tenantID,
		LeadID:   leadID,
		Stage:    stage,
		Subject:  subject,
		Body:     body,
	}

	err := gc.db.Transaction(func(tx *gorm.DB) error {
		now := time.Now()
		if err := tx.Model(&models.GeneratedDraft{}).
			Where("lead_id = ? AND stage = ? AND consumed = ?", leadID, stage, false).
			Updates(map[string]interface{}{"consumed": true, "consumed_at": now}).Error; err != nil {
			return err
		}
		return tx.Create(draft).Error
	})
	if err != nil {
		return nil, err
	}
	return draft, nil
}
