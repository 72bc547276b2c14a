package copilot

import (
	"github.com/caseproof/memberpress-courses-copilot-sub010/services"
	"github.com/caseproof/memberpress-courses-copilot-sub010/utils/response"
	"github.com/gofiber/fiber/v2"
)

// SendMessageRequest represents one chat turn
type SendMessageRequest struct {
	SessionID string `json:"session_id" validate:"omitempty,max=64"`
	Message   string `json:"message" validate:"notblank,max=10000"`
	Sequence  *int64 `json:"sequence" validate:"omitempty,min=1"`
	PhaseHint string `json:"phase_hint" validate:"omitempty,max=32"`
}

// RefineRequest asks for one section or lesson to be regenerated
type RefineRequest struct {
	SectionID   string `json:"section_id" validate:"notblank,max=64"`
	LessonID    string `json:"lesson_id" validate:"omitempty,max=64"`
	Instruction string `json:"instruction" validate:"notblank,max=4000"`
	Sequence    *int64 `json:"sequence" validate:"omitempty,min=1"`
}

// SendMessage handles POST /api/v1/copilot/messages
func (h *CopilotHandler) SendMessage(c *fiber.Ctx) error {
	userID, ok, err := currentUser(c)
	if !ok {
		return err
	}

	var req SendMessageRequest
	if ok, err := h.parse(c, &req); !ok {
		return err
	}

	turn, err := h.conversations.SendMessage(c.UserContext(), services.SendMessageInput{
		UserID:    userID,
		SessionID: req.SessionID,
		Message:   req.Message,
		Sequence:  req.Sequence,
		PhaseHint: req.PhaseHint,
	})
	if err != nil {
		return h.respondError(c, err)
	}

	return response.Success(c, turn)
}

// Refine handles POST /api/v1/copilot/sessions/:id/refine
func (h *CopilotHandler) Refine(c *fiber.Ctx) error {
	userID, ok, err := currentUser(c)
	if !ok {
		return err
	}

	var req RefineRequest
	if ok, err := h.parse(c, &req); !ok {
		return err
	}

	turn, err := h.conversations.Refine(c.UserContext(), services.RefineInput{
		UserID:      userID,
		SessionID:   c.Params("id"),
		SectionID:   req.SectionID,
		LessonID:    req.LessonID,
		Instruction: req.Instruction,
		Sequence:    req.Sequence,
	})
	if err != nil {
		return h.respondError(c, err)
	}

	return response.Success(c, turn)
}

// Commit handles POST /api/v1/copilot/sessions/:id/commit
func (h *CopilotHandler) Commit(c *fiber.Ctx) error {
	userID, ok, err := currentUser(c)
	if !ok {
		return err
	}

	result, err := h.conversations.Commit(c.UserContext(), userID, c.Params("id"))
	if err != nil {
		return h.respondError(c, err)
	}

	message := "Course created"
	if result.AlreadyCommitted {
		message = "Course was already created"
	}
	return response.SuccessWithMessage(c, message, fiber.Map{
		"success":           true,
		"course_id":         result.CourseID,
		"sections_created":  result.SectionsCreated,
		"lessons_created":   result.LessonsCreated,
		"already_committed": result.AlreadyCommitted,
	})
}

// Restart handles POST /api/v1/copilot/sessions/:id/restart
func (h *CopilotHandler) Restart(c *fiber.Ctx) error {
	userID, ok, err := currentUser(c)
	if !ok {
		return err
	}

	session, err := h.conversations.Restart(c.UserContext(), userID, c.Params("id"))
	if err != nil {
		return h.respondError(c, err)
	}

	return response.Success(c, session)
}
