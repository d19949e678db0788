// Package api assembles the fiber application: middleware, REST routes and
// the websocket stream for generation sessions.
package api

import (
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	fiberlogger "github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/websocket/v2"

	"github.com/coverletter-agent/backend/internal/api/handlers"
	"github.com/coverletter-agent/backend/internal/generation"
	"github.com/coverletter-agent/backend/internal/metrics"
	"github.com/coverletter-agent/backend/internal/middleware/ratelimit"
	"github.com/coverletter-agent/backend/internal/middleware/security"
	"github.com/coverletter-agent/backend/internal/middleware/validation"
	"github.com/coverletter-agent/backend/pkg/config"
)

type Deps struct {
	Orchestrator *generation.Orchestrator
	Registry     *generation.Registry
	Ingester     handlers.Ingester
	Documents    handlers.DocumentLister
	Applications handlers.ApplicationReader
	Feedback     handlers.FeedbackStore
	Improver     handlers.PromptImprover
}

type Server struct {
	App     *fiber.App
	limiter *ratelimit.RateLimiter
}

func NewServer(cfg *config.Config, deps Deps) *Server {
	app := fiber.New(fiber.Config{
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
		BodyLimit:    cfg.Server.BodyLimit,
	})

	limiter := ratelimit.New(ratelimit.Config{MaxRequestsPerMinute: cfg.Server.RateLimitPerMinute})

	app.Use(recover.New())
	app.Use(fiberlogger.New())
	app.Use(cors.New(cors.Config{
		AllowOrigins: strings.Join(cfg.Server.AllowedOrigins, ", "),
		AllowHeaders: "Origin, Content-Type, Accept",
		AllowMethods: "GET, POST, DELETE, OPTIONS",
	}))
	app.Use(security.HeadersMiddleware(security.HeadersConfig{
		AllowedOrigins: cfg.Server.AllowedOrigins,
		IsDevelopment:  cfg.Logging.Level == "debug",
	}))

	app.Get("/metrics", metrics.MetricsHandler())

	sessions := handlers.NewSessionHandler(deps.Orchestrator, deps.Registry)
	stream := handlers.NewWebSocketHandler(deps.Registry)
	documents := handlers.NewDocumentHandler(deps.Ingester, deps.Documents, cfg.Ingestion.DataDir)
	fb := handlers.NewFeedbackHandler(deps.Feedback, deps.Improver)
	apps := handlers.NewApplicationHandler(deps.Applications)

	api := app.Group("/api/v1", limiter.Middleware(), validation.Middleware(validation.Config{}))

	api.Post("/sessions", sessions.CreateSession)
	api.Get("/sessions/:id", sessions.GetSession)
	api.Post("/sessions/:id/draft", sessions.Draft)
	api.Post("/sessions/:id/revise", sessions.Revise)
	api.Post("/sessions/:id/save", sessions.Save)
	api.Delete("/sessions/:id", sessions.Abandon)

	api.Get("/documents", documents.ListDocuments)
	api.Post("/documents", documents.UploadDocument)
	api.Post("/documents/ingest", documents.Ingest)

	api.Get("/feedback", fb.GetCounts)
	api.Post("/feedback", fb.RecordFeedback)
	api.Get("/feedback/:category", fb.GetEntries)
	api.Post("/improvements/:category/suggest", fb.Suggest)
	api.Post("/improvements/:category/apply", fb.Apply)

	api.Get("/applications", apps.ListApplications)
	api.Get("/applications/:id", apps.GetApplication)

	api.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status":   "healthy",
			"sessions": deps.Registry.Len(),
			"time":     time.Now().Unix(),
		})
	})

	app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	app.Get("/ws/sessions/:id", websocket.New(stream.HandleConnection))

	return &Server{App: app, limiter: limiter}
}

func (s *Server) Listen(addr string) error {
	return s.App.Listen(addr)
}

func (s *Server) Shutdown() error {
	s.limiter.Stop()
	return s.App.Shutdown()
}
