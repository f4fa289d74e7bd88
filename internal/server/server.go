// Package server assembles the HTTP application.
package server

import (
	"log"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/redis/go-redis/v9"

	"github.com/stemtranscriber/api/internal/config"
	"github.com/stemtranscriber/api/internal/handler"
	"github.com/stemtranscriber/api/internal/jobstore"
	"github.com/stemtranscriber/api/internal/middleware"
	"github.com/stemtranscriber/api/internal/service"
	ws "github.com/stemtranscriber/api/internal/websocket"
	"github.com/stemtranscriber/api/pkg/response"
)

// Deps are the collaborators the routes need.
type Deps struct {
	Config   *config.Config
	Redis    *redis.Client
	Store    jobstore.Store
	Projects *service.ProjectService
	Dispatch *service.DispatchService
	Hub      *ws.Hub
}

// NewApp builds the fiber app with every route registered.
func NewApp(d Deps) *fiber.App {
	cfg := d.Config
	validate := validator.New()

	projectHandler := handler.NewProjectHandler(d.Projects, validate)
	jobHandler := handler.NewJobHandler(d.Dispatch, validate)
	fileHandler := handler.NewFileHandler(d.Projects)
	wsHandler := handler.NewWSHandler(d.Hub, d.Store)

	rateLimiter := middleware.NewRateLimiter(d.Redis)

	app := fiber.New(fiber.Config{
		ErrorHandler: customErrorHandler,
		BodyLimit:    256 * 1024 * 1024, // 256MB
	})

	// Global middleware
	app.Use(recover.New())
	logFormat := "[${time}] ${status} - ${latency} ${method} ${path}\n"
	if strings.EqualFold(cfg.Server.LogLevel, "debug") {
		logFormat = "[${time}] ${status} - ${latency} ${method} ${path} ${queryParams} ${reqHeaders}\n"
		log.Println("Debug logging enabled")
	}
	app.Use(logger.New(logger.Config{
		Format: logFormat,
	}))
	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowMethods: "GET,HEAD,POST,OPTIONS",
		AllowHeaders: "Origin,Content-Type,Accept,Authorization,Range",
	}))

	// Health check
	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"service": "stemtranscriber-api", "ok": true})
	})

	// Auth is optional; every protected group shares the same handler chain
	protect := func(c *fiber.Ctx) error { return c.Next() }
	if cfg.Auth.Enabled {
		protect = middleware.NewAuthMiddleware(cfg.Auth.JWTSecret).Authenticate()
	}

	// API routes
	api := app.Group("/api", protect)

	projects := api.Group("/projects")
	projects.Get("/", projectHandler.List)
	projects.Post("/", projectHandler.Create)
	projects.Post("/:projectId/upload", rateLimiter.UploadLimit(cfg.RateLimit.UploadPerHour), projectHandler.Upload)
	projects.Post("/:projectId/separate", rateLimiter.SeparateLimit(cfg.RateLimit.SeparatePerHour), jobHandler.Separate)
	projects.Post("/:projectId/transcribe", rateLimiter.TranscribeLimit(cfg.RateLimit.TranscribePerHour), jobHandler.Transcribe)
	projects.Get("/:projectId/stems", projectHandler.Stems)
	projects.Get("/:projectId/transcriptions", projectHandler.Transcriptions)

	api.Get("/jobs/:jobId", jobHandler.Status)

	// File downloads (GET also answers HEAD)
	files := app.Group("/files", protect)
	files.Get("/:projectId/stems/:filename", fileHandler.Stem)
	files.Get("/:projectId/transcriptions/:filename", fileHandler.Transcription)

	// WebSocket routes
	app.Use("/ws", wsHandler.Upgrade, protect)
	app.Get("/ws/jobs/:jobId", wsHandler.Jobs())

	return app
}

// ShutdownTimeout bounds graceful shutdown of the HTTP server.
const ShutdownTimeout = 10 * time.Second

func customErrorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	message := "Internal Server Error"

	if e, ok := err.(*fiber.Error); ok {
		code = e.Code
		message = e.Message
	}

	errCode := response.CodeServiceError
	if code == fiber.StatusNotFound {
		errCode = response.CodeNotFound
	}

	return response.Error(c, code, errCode, message, nil)
}
