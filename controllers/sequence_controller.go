package controller

import (
	"sync"

	"leadpilot/models"
	"leadpilot/sequence"
	"leadpilot/utils"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// SequenceController exposes the manual sequencing controls and the
// sweep trigger. Every state mutation goes through the dispatcher's
// state machine so API calls and sweep workers share one transition
// path.
type SequenceController struct {
	DB         *gorm.DB
	Logger     *logrus.Entry
	Dispatcher *sequence.Dispatcher

	mu          sync.Mutex
	subscribers map[*websocket.Conn]bool
}

func NewSequenceController(db *gorm.DB, logger *logrus.Entry, dispatcher *sequence.Dispatcher) *SequenceController {
	sc := &SequenceController{
		DB:          db,
		Logger:      logger,
		Dispatcher:  dispatcher,
		subscribers: make(map[*websocket.Conn]bool),
	}
	dispatcher.OnComplete = sc.broadcastSweep
	return sc
}

func (sc *SequenceController) loadLead(c *fiber.Ctx) (*models.Lead, error) {
	tenant := c.Locals("tenant").(*models.Tenant)
	var lead models.Lead
	err := sc.DB.Where("id = ? AND tenant_id = ?", c.Params("id"), tenant.ID).
		First(&lead).Error
	if err != nil {
		return nil, err
	}
	return &lead, nil
}

// Enroll starts the sequence for a lead that is not in one yet
func (sc *SequenceController) Enroll(c *fiber.Ctx) error {
	lead, err := sc.loadLead(c)
	if err != nil {
		return utils.ErrorResponse(c, fiber.StatusNotFound, "Lead not found", nil)
	}

	switch err := sc.Dispatcher.StateMachine().Enroll(lead); err {
	case nil:
	case sequence.ErrConfigurationMissing:
		return utils.ErrorResponse(c, fiber.StatusUnprocessableEntity, "No timing policy configured", nil)
	case sequence.ErrInvalidTransition:
		return utils.ErrorResponse(c, fiber.StatusConflict, "Lead is already enrolled or quarantined", nil)
	default:
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to enroll lead", err)
	}

	sc.Logger.WithFields(logrus.Fields{"lead_id": lead.ID, "stage": *lead.Stage}).Info("lead enrolled")
	return c.JSON(utils.SuccessResponse(lead))
}

// Pause stops the sequence for a lead. A manual stop is the only stop
// the API can later resume.
func (sc *SequenceController) Pause(c *fiber.Ctx) error {
	lead, err := sc.loadLead(c)
	if err != nil {
		return utils.ErrorResponse(c, fiber.StatusNotFound, "Lead not found", nil)
	}

	switch err := sc.Dispatcher.StateMachine().Stop(lead, models.StopReasonManual); err {
	case nil:
	case sequence.ErrStateConflict:
		return utils.ErrorResponse(c, fiber.StatusConflict, "Lead is not active", nil)
	default:
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to pause lead", err)
	}

	return c.JSON(utils.SuccessResponse(lead))
}

// Resume re-activates a manually paused lead at its current stage
func (sc *SequenceController) Resume(c *fiber.Ctx) error {
	lead, err := sc.loadLead(c)
	if err != nil {
		return utils.ErrorResponse(c, fiber.StatusNotFound, "Lead not found", nil)
	}

	switch err := sc.Dispatcher.StateMachine().Resume(lead); err {
	case nil:
	case sequence.ErrInvalidTransition, sequence.ErrStateConflict:
		return utils.ErrorResponse(c, fiber.StatusConflict, "Lead is not paused", nil)
	default:
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to resume lead", err)
	}

	return c.JSON(utils.SuccessResponse(lead))
}

// Advance force-moves an active lead to its next stage without sending
func (sc *SequenceController) Advance(c *fiber.Ctx) error {
	lead, err := sc.loadLead(c)
	if err != nil {
		return utils.ErrorResponse(c, fiber.StatusNotFound, "Lead not found", nil)
	}

	switch err := sc.Dispatcher.StateMachine().Advance(lead); err {
	case nil:
	case sequence.ErrInvalidTransition, sequence.ErrStateConflict:
		return utils.ErrorResponse(c, fiber.StatusConflict, "Lead is not active", nil)
	default:
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to advance lead", err)
	}

	return c.JSON(utils.SuccessResponse(lead))
}

// ClearQuarantine releases a quarantined lead back to the unenrolled
// pool after an operator has repaired its state
func (sc *SequenceController) ClearQuarantine(c *fiber.Ctx) error {
	lead, err := sc.loadLead(c)
	if err != nil {
		return utils.ErrorResponse(c, fiber.StatusNotFound, "Lead not found", nil)
	}
	if !lead.Quarantined {
		return utils.ErrorResponse(c, fiber.StatusConflict, "Lead is not quarantined", nil)
	}

	err = sc.DB.Model(lead).Updates(map[string]interface{}{
		"quarantined":       false,
		"quarantine_note":   "",
		"active":            false,
		"stage":             nil,
		"step":              0,
		"next_scheduled_at": nil,
		"stopped_reason":    nil,
		"fail_streak":       0,
	}).Error
	if err != nil {
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to clear quarantine", err)
	}

	sc.Logger.WithField("lead_id", lead.ID).Info("quarantine cleared")
	return c.JSON(utils.SuccessResponse(lead))
}

// RunSweep triggers one sweep immediately and returns its summary.
// Rate-limited at the route layer; the scheduled worker runs the same
// dispatcher, so concurrent sweeps stay safe through per-lead claims.
func (sc *SequenceController) RunSweep(c *fiber.Ctx) error {
	run, err := sc.Dispatcher.Run(c.Context(), "manual")
	if err != nil {
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Sweep failed", err)
	}
	return c.JSON(utils.SuccessResponse(run))
}

// ListSweeps returns recent sweep summaries, newest first
func (sc *SequenceController) ListSweeps(c *fiber.Ctx) error {
	var runs []models.SweepRun
	if err := sc.DB.Omit("detail").Order("started_at DESC").Limit(50).
		Find(&runs).Error; err != nil {
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to fetch sweeps", err)
	}
	return c.JSON(utils.SuccessResponse(runs))
}

// GetSweep returns one sweep with its per-lead detail
func (sc *SequenceController) GetSweep(c *fiber.Ctx) error {
	var run models.SweepRun
	if err := sc.DB.First(&run, c.Params("id")).Error; err != nil {
		return utils.ErrorResponse(c, fiber.StatusNotFound, "Sweep not found", nil)
	}
	return c.JSON(utils.SuccessResponse(run))
}

// HandleSweepProgressWS streams finished sweep summaries to the client.
// The connection subscribes on open and receives every SweepRun the
// dispatcher completes until the socket closes.
func (sc *SequenceController) HandleSweepProgressWS(c *websocket.Conn) {
	sc.mu.Lock()
	sc.subscribers[c] = true
	sc.mu.Unlock()

	defer func() {
		sc.mu.Lock()
		delete(sc.subscribers, c)
		sc.mu.Unlock()
		c.Close()
	}()

	// Block until the client goes away; writes happen from broadcastSweep
	for {
		if _, _, err := c.ReadMessage(); err != nil {
			return
		}
	}
}

func (sc *SequenceController) broadcastSweep(run *models.SweepRun) {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	for conn := range sc.subscribers {
		if err := conn.WriteJSON(run); err != nil {
			sc.Logger.WithError(err).Debug("dropping sweep progress subscriber")
			delete(sc.subscribers, conn)
			conn.Close()
		}
	}
}
