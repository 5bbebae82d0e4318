package routes

import (
	controller "leadpilot/controllers"
	"leadpilot/middleware"
	"leadpilot/sequence"
	"leadpilot/utils"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/websocket/v2"
	"gorm.io/gorm"
)

func SetupAuthRoutes(app *fiber.App, db *gorm.DB) {
	auth := app.Group("/auth", logger.New(logger.Config{
		Format: "[${time}] ${status} - ${latency} ${method} ${path}\n",
	}))

	// Public auth endpoints
	auth.Post("/register", controller.Register)
	auth.Post("/login", controller.Login)
	auth.Post("/refresh", controller.RefreshToken)

	// Protected auth endpoints
	protectedAuth := auth.Group("", middleware.Protected())
	protectedAuth.Get("/me", controller.GetCurrentTenant)
}

func SetupAPIRoutes(app *fiber.App, db *gorm.DB, dispatcher *sequence.Dispatcher) {
	leadController := controller.NewLeadController(db, utils.NewComponentLogger("lead"))
	policyController := controller.NewPolicyController(db, utils.NewComponentLogger("policy"))
	templateController := controller.NewTemplateController(db, utils.NewComponentLogger("template"))
	draftController := controller.NewDraftController(db, utils.NewComponentLogger("draft"))
	senderController := controller.NewSenderController(db, utils.NewComponentLogger("sender"))
	sequenceController := controller.NewSequenceController(db, utils.NewComponentLogger("sequence"), dispatcher)
	dashboardController := controller.NewDashboardController(db, utils.NewComponentLogger("dashboard"))

	api := app.Group("/api/v1", middleware.Protected(), logger.New(logger.Config{
		Format: "[${time}] ${status} - ${latency} ${method} ${path}\n",
	}))

	// Lead routes
	lead := api.Group("/leads")
	lead.Post("/", leadController.CreateLead)
	lead.Post("/ingest", leadController.IngestLeads)
	lead.Get("/", leadController.GetLeads)
	lead.Get("/:id", leadController.GetLead)
	lead.Put("/:id", leadController.UpdateLead)
	lead.Delete("/:id", leadController.DeleteLead)
	lead.Post("/:id/reply", leadController.RecordReply)

	// Sequencing controls on leads
	lead.Post("/:id/enroll", sequenceController.Enroll)
	lead.Post("/:id/pause", sequenceController.Pause)
	lead.Post("/:id/resume", sequenceController.Resume)
	lead.Post("/:id/advance", sequenceController.Advance)
	lead.Post("/:id/clear-quarantine", sequenceController.ClearQuarantine)

	// Timing policy routes
	policy := api.Group("/policy")
	policy.Get("/", policyController.GetPolicy)
	policy.Get("/default", policyController.GetDefaultPolicy)
	policy.Put("/", policyController.UpsertPolicy)
	policy.Delete("/", policyController.DeletePolicy)

	// Content template routes
	template := api.Group("/templates")
	template.Get("/", templateController.GetTemplates)
	template.Get("/:stage", templateController.GetTemplate)
	template.Put("/", templateController.UpsertTemplate)
	template.Delete("/:stage", templateController.DeleteTemplate)
	api.Get("/preview/:leadID/:stage", templateController.PreviewContent)

	// Draft routes
	draft := api.Group("/drafts")
	draft.Post("/request", draftController.RequestDraft)
	draft.Post("/deliver", draftController.DeliverDraft)
	draft.Get("/", draftController.GetDrafts)

	// Sender routes
	sender := api.Group("/senders")
	sender.Post("/", senderController.CreateSender)
	sender.Get("/", senderController.GetSenders)
	sender.Put("/:id", senderController.UpdateSender)
	sender.Delete("/:id", senderController.DeleteSender)

	// Sweep routes; the manual trigger is rate-limited
	sweep := api.Group("/sweeps")
	sweep.Post("/run", middleware.SweepRateLimiter(), sequenceController.RunSweep)
	sweep.Get("/", sequenceController.ListSweeps)
	sweep.Get("/:id", sequenceController.GetSweep)

	// Dashboard routes
	dashboard := api.Group("/dashboard")
	dashboard.Get("/stats", dashboardController.GetStats)
	dashboard.Get("/stages", dashboardController.GetStageBreakdown)
	dashboard.Get("/activity", dashboardController.GetRecentActivity)

	// WebSocket route for sweep progress
	app.Get("/api/v1/sweeps/progress", websocket.New(func(c *websocket.Conn) {
		sequenceController.HandleSweepProgressWS(c)
	}))
}
