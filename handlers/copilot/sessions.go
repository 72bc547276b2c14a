package copilot

import (
	"strconv"

	"github.com/caseproof/memberpress-courses-copilot-sub010/utils/response"
	"github.com/gofiber/fiber/v2"
)

// ListSessions handles GET /api/v1/copilot/sessions
func (h *CopilotHandler) ListSessions(c *fiber.Ctx) error {
	userID, ok, err := currentUser(c)
	if !ok {
		return err
	}

	limit, _ := strconv.Atoi(c.Query("limit", "20"))

	sessions, err := h.conversations.ListSessions(c.UserContext(), userID, limit)
	if err != nil {
		return h.respondError(c, err)
	}

	return response.Success(c, sessions)
}

// GetSession handles GET /api/v1/copilot/sessions/:id
func (h *CopilotHandler) GetSession(c *fiber.Ctx) error {
	userID, ok, err := currentUser(c)
	if !ok {
		return err
	}

	session, err := h.conversations.GetSession(c.UserContext(), userID, c.Params("id"))
	if err != nil {
		return h.respondError(c, err)
	}

	return response.Success(c, session)
}

// DeleteSession handles DELETE /api/v1/copilot/sessions/:id
func (h *CopilotHandler) DeleteSession(c *fiber.Ctx) error {
	userID, ok, err := currentUser(c)
	if !ok {
		return err
	}

	deleted, err := h.conversations.Delete(c.UserContext(), userID, c.Params("id"))
	if err != nil {
		return h.respondError(c, err)
	}

	return response.Success(c, fiber.Map{"deleted_count": deleted})
}

// CleanupSessions handles POST /api/v1/copilot/sessions/cleanup
func (h *CopilotHandler) CleanupSessions(c *fiber.Ctx) error {
	userID, ok, err := currentUser(c)
	if !ok {
		return err
	}

	deleted, err := h.conversations.Cleanup(c.UserContext(), userID)
	if err != nil {
		return h.respondError(c, err)
	}

	return response.Success(c, fiber.Map{"deleted_count": deleted})
}
