package copilot

import (
	"errors"

	"github.com/caseproof/memberpress-courses-copilot-sub010/services"
	"github.com/caseproof/memberpress-courses-copilot-sub010/utils"
	"github.com/caseproof/memberpress-courses-copilot-sub010/utils/middleware"
	"github.com/caseproof/memberpress-courses-copilot-sub010/utils/response"
	"github.com/caseproof/memberpress-courses-copilot-sub010/utils/validation"
	"github.com/gofiber/fiber/v2"
)

// CopilotHandler exposes the conversation service over HTTP
type CopilotHandler struct {
	conversations *services.ConversationService
	validator     *validation.Validator
	log           *utils.Logger
}

// NewCopilotHandler creates a new copilot handler
func NewCopilotHandler(conversations *services.ConversationService, validator *validation.Validator, log *utils.Logger) *CopilotHandler {
	return &CopilotHandler{
		conversations: conversations,
		validator:     validator,
		log:           log,
	}
}

// parse reads and validates the JSON body into req. When it returns false
// the error response has already been written.
func (h *CopilotHandler) parse(c *fiber.Ctx, req interface{}) (bool, error) {
	if err := c.BodyParser(req); err != nil {
		return false, response.BadRequest(c, "Invalid request body")
	}
	if err := h.validator.ValidateStruct(req); err != nil {
		return false, response.ValidationFailed(c, err, validation.FormatValidationErrors(err))
	}
	return true, nil
}

// currentUser returns the authenticated user id. When it returns false the
// 401 has already been written.
func currentUser(c *fiber.Ctx) (uint, bool, error) {
	userID, ok := middleware.GetUserID(c)
	if !ok || userID == 0 {
		return 0, false, response.Unauthorized(c, "User not authenticated")
	}
	return userID, true, nil
}

// respondError maps service errors onto the response envelope
func (h *CopilotHandler) respondError(c *fiber.Ctx, err error) error {
	var data fiber.Map
	var sessionErr *services.SessionError
	if errors.As(err, &sessionErr) {
		data = fiber.Map{"session_id": sessionErr.SessionID}
	}
	detail := func(status int, code, message string, retryable bool) error {
		d := response.ErrorDetail{
			Code:      code,
			Message:   message,
			Details:   err.Error(),
			Retryable: retryable,
		}
		if data != nil {
			d.Data = data
		}
		return response.ErrorWithDetail(c, status, d)
	}

	var (
		partial  *services.PartialCommitError
		gateway  *services.GatewayError
		phaseErr *services.PhaseError
	)
	switch {
	case errors.As(err, &partial):
		if data == nil {
			data = fiber.Map{}
		}
		data["partial_course_id"] = partial.CourseID
		return detail(fiber.StatusInternalServerError, "PARTIAL_COMMIT", "The course was only partially created; retrying resumes it", true)

	case errors.As(err, &gateway):
		switch gateway.Class {
		case services.ErrorClassTimeout:
			return detail(fiber.StatusGatewayTimeout, "AI_TIMEOUT", "The assistant took too long to answer", true)
		case services.ErrorClassRateLimited:
			return detail(fiber.StatusTooManyRequests, "AI_RATE_LIMITED", "The assistant is busy, try again shortly", true)
		case services.ErrorClassAuth:
			h.log.Error("AI provider rejected credentials", "error", err)
			return detail(fiber.StatusBadGateway, "AI_UNAVAILABLE", "The assistant is not configured correctly", false)
		default:
			return detail(fiber.StatusBadGateway, "AI_BAD_RESPONSE", "The assistant returned an unusable answer", gateway.Retryable())
		}

	case errors.Is(err, services.ErrSessionNotFound):
		return detail(fiber.StatusNotFound, "SESSION_NOT_FOUND", "Session not found", false)
	case errors.Is(err, services.ErrDraftNotFound):
		return detail(fiber.StatusNotFound, "DRAFT_NOT_FOUND", "Draft not found", false)
	case errors.Is(err, services.ErrUnknownTarget):
		return detail(fiber.StatusNotFound, "UNKNOWN_TARGET", "Section or lesson not found", false)

	case errors.As(err, &phaseErr):
		return detail(fiber.StatusConflict, "PHASE_NOT_ALLOWED", phaseErr.Error(), false)
	case errors.Is(err, services.ErrSequenceConflict):
		return detail(fiber.StatusConflict, "SEQUENCE_CONFLICT", "The sequence number does not match this request", false)
	case errors.Is(err, services.ErrNotReadyToCommit):
		return detail(fiber.StatusConflict, "NOT_READY_TO_COMMIT", "The course structure is not ready to be created", false)
	case errors.Is(err, services.ErrCommitUnfinished):
		return detail(fiber.StatusConflict, "COMMIT_UNFINISHED", "Part of the course already exists; retry the commit to finish it", false)

	case errors.Is(err, services.ErrInvalidInput):
		return detail(fiber.StatusUnprocessableEntity, "VALIDATION_ERROR", "Validation failed", false)
	case errors.Is(err, services.ErrStorageUnavailable):
		h.log.Error("Storage unavailable", "path", c.Path(), "error", err)
		return detail(fiber.StatusServiceUnavailable, "SERVICE_UNAVAILABLE", "Service temporarily unavailable", true)
	}

	h.log.Error("Unhandled copilot error", "path", c.Path(), "error", err)
	return detail(fiber.StatusInternalServerError, "INTERNAL_ERROR", "Internal server error", false)
}
