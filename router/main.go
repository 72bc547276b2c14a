package router

import (
	"time"

	"github.com/caseproof/memberpress-courses-copilot-sub010/database"
	"github.com/caseproof/memberpress-courses-copilot-sub010/handlers"
	copilot_handlers "github.com/caseproof/memberpress-courses-copilot-sub010/handlers/copilot"
	"github.com/caseproof/memberpress-courses-copilot-sub010/utils"
	"github.com/caseproof/memberpress-courses-copilot-sub010/utils/middleware"
	"github.com/gofiber/fiber/v2"
)

// Dependencies are the already constructed pieces the routes need
type Dependencies struct {
	Store          database.Storage
	Auth           *middleware.AuthMiddleware
	Copilot        *copilot_handlers.CopilotHandler
	AllowedOrigins string
}

func SetupRoutes(app *fiber.App, deps Dependencies) {
	middleware.SetupSecurity(app, middleware.SecurityConfig{
		AllowedOrigins:    deps.AllowedOrigins,
		RateLimitRequests: 120,             // 120 requests
		RateLimitWindow:   1 * time.Minute, // per minute
	})

	// Health check endpoint (public)
	app.Get("/ping", utils.MakeHTTPHandleFunc(handlers.HandleCheckHealth, deps.Store))

	// API v1 group
	api := app.Group("/api/v1")

	RegisterCopilotRoutes(api, deps.Auth.Required(), deps.Copilot)
}

// RegisterCopilotRoutes mounts the copilot endpoints under /copilot
func RegisterCopilotRoutes(api fiber.Router, authRequired fiber.Handler, h *copilot_handlers.CopilotHandler) {
	copilot := api.Group("/copilot", authRequired)

	copilot.Post("/messages", h.SendMessage)

	sessions := copilot.Group("/sessions")
	sessions.Get("/", h.ListSessions)
	sessions.Post("/cleanup", h.CleanupSessions) // must precede /:id routes
	sessions.Get("/:id", h.GetSession)
	sessions.Delete("/:id", h.DeleteSession)
	sessions.Post("/:id/restart", h.Restart)
	sessions.Post("/:id/refine", h.Refine)
	sessions.Post("/:id/commit", h.Commit)
	sessions.Post("/:id/reference", h.AttachReference)

	// Lesson drafts edited in the preview
	sessions.Put("/:id/drafts", h.SaveDraft)
	sessions.Get("/:id/drafts", h.ListDrafts)
	sessions.Get("/:id/drafts/:section_id/:lesson_id", h.GetDraft)
}
