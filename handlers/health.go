package handlers

import (
	"github.com/caseproof/memberpress-courses-copilot-sub010/database"
	"github.com/caseproof/memberpress-courses-copilot-sub010/utils/response"
	"github.com/gofiber/fiber/v2"
)

// HandleCheckHealth reports whether the copilot database answers
func HandleCheckHealth(c *fiber.Ctx, store database.Storage) error {
	if err := store.HealthCheck(); err != nil {
		return response.ServiceUnavailable(c, "Database unavailable")
	}
	return c.JSON(fiber.Map{"status": "ok"})
}
