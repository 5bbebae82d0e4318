package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"leadpilot/config"
	"leadpilot/middleware"
	"leadpilot/routes"
	"leadpilot/sequence"
	"leadpilot/utils"
	"leadpilot/worker"

	"github.com/getsentry/sentry-go"
	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"
)

func main() {
	logger := utils.NewComponentLogger("main")

	if err := config.LoadConfig(); err != nil {
		logger.Fatalf("Failed to load configuration: %v", err)
	}

	if dsn := config.AppConfig.SentryDSN; dsn != "" {
		if err := sentry.Init(sentry.ClientOptions{Dsn: dsn, Environment: config.AppConfig.Environment}); err != nil {
			logger.WithError(err).Warn("Sentry initialization failed, continuing without it")
		}
	}

	if err := config.ConnectDB(); err != nil {
		logger.Fatalf("Failed to connect to database: %v", err)
	}

	app := fiber.New()
	app.Use(middleware.CORS())

	// The sweep dispatcher and the manual API endpoints share one
	// dispatcher instance so every transition runs the same path.
	seqCfg := config.AppConfig.Sequencing
	mailer := utils.NewSMTPMailer(config.DB)
	dispatcher := sequence.NewDispatcher(config.DB, mailer, utils.NewComponentLogger("sweep"), sequence.Options{
		Workers:      seqCfg.SweepWorkers,
		ClaimWindow:  seqCfg.ClaimWindow,
		RetryBackoff: seqCfg.RetryBackoff,
		SendTimeout:  seqCfg.SendTimeout,
		ErrorBudget:  seqCfg.ErrorBudget,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sweepWorker := worker.NewSweepWorker(dispatcher, seqCfg.SweepInterval, utils.NewComponentLogger("sweep-worker"))
	go sweepWorker.Start(ctx)

	replyWorker := worker.NewReplyWorker(config.DB, seqCfg.ReplyInterval, utils.NewComponentLogger("reply-worker"))
	go replyWorker.Start(ctx)

	routes.SetupAuthRoutes(app, config.DB)
	routes.SetupAPIRoutes(app, config.DB, dispatcher)

	app.Get("/", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status":  "running",
			"version": "1.0.0",
		})
	})

	// Shut workers down before the listener so an in-flight sweep can
	// finish its claims.
	go func() {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		<-quit
		logger.Info("Shutdown signal received")
		cancel()
		_ = app.Shutdown()
	}()

	logger.WithFields(logrus.Fields{"port": config.AppConfig.ServerPort}).Info("Server starting")
	if err := app.Listen(":" + config.AppConfig.ServerPort); err != nil {
		logger.Fatalf("Failed to start server: %v", err)
	}
}
