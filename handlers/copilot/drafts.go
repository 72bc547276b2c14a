package copilot

import (
	"io"

	"github.com/caseproof/memberpress-courses-copilot-sub010/model"
	"github.com/caseproof/memberpress-courses-copilot-sub010/services"
	"github.com/caseproof/memberpress-courses-copilot-sub010/utils/pdfvalidation"
	"github.com/caseproof/memberpress-courses-copilot-sub010/utils/response"
	"github.com/gofiber/fiber/v2"
)

// SaveDraftRequest represents an edited lesson body
type SaveDraftRequest struct {
	SectionID  string `json:"section_id" validate:"notblank,max=64"`
	LessonID   string `json:"lesson_id" validate:"notblank,max=64"`
	Content    string `json:"content" validate:"max=200000"`
	OrderIndex int    `json:"order_index" validate:"gte=0"`
}

// SaveDraft handles PUT /api/v1/copilot/sessions/:id/drafts
func (h *CopilotHandler) SaveDraft(c *fiber.Ctx) error {
	userID, ok, err := currentUser(c)
	if !ok {
		return err
	}

	var req SaveDraftRequest
	if ok, err := h.parse(c, &req); !ok {
		return err
	}

	changed, err := h.conversations.SaveDraft(c.UserContext(), userID, services.DraftInput{
		SessionID:  c.Params("id"),
		SectionID:  req.SectionID,
		LessonID:   req.LessonID,
		Content:    req.Content,
		OrderIndex: req.OrderIndex,
	})
	if err != nil {
		return h.respondError(c, err)
	}

	return response.Success(c, fiber.Map{"success": true, "changed": changed})
}

// ListDrafts handles GET /api/v1/copilot/sessions/:id/drafts
func (h *CopilotHandler) ListDrafts(c *fiber.Ctx) error {
	userID, ok, err := currentUser(c)
	if !ok {
		return err
	}

	drafts, err := h.conversations.ListDrafts(c.UserContext(), userID, c.Params("id"))
	if err != nil {
		return h.respondError(c, err)
	}

	return response.Success(c, fiber.Map{"drafts": drafts})
}

// GetDraft handles GET /api/v1/copilot/sessions/:id/drafts/:section_id/:lesson_id
func (h *CopilotHandler) GetDraft(c *fiber.Ctx) error {
	userID, ok, err := currentUser(c)
	if !ok {
		return err
	}

	content, err := h.conversations.GetDraft(c.UserContext(), userID, c.Params("id"), model.DraftKey{
		SectionID: c.Params("section_id"),
		LessonID:  c.Params("lesson_id"),
	})
	if err != nil {
		return h.respondError(c, err)
	}

	return response.Success(c, fiber.Map{"content": content})
}

// AttachReference handles POST /api/v1/copilot/sessions/:id/reference
func (h *CopilotHandler) AttachReference(c *fiber.Ctx) error {
	userID, ok, err := currentUser(c)
	if !ok {
		return err
	}

	fileHeader, err := c.FormFile("file")
	if err != nil {
		return response.BadRequest(c, "A PDF file is required")
	}
	if fileHeader.Size > int64(pdfvalidation.ReferenceLimits.MaxFileSizeMB)<<20 {
		return response.BadRequest(c, "File too large")
	}

	file, err := fileHeader.Open()
	if err != nil {
		return response.BadRequest(c, "Could not read the uploaded file")
	}
	defer file.Close()

	content, err := io.ReadAll(file)
	if err != nil {
		return response.BadRequest(c, "Could not read the uploaded file")
	}
	if _, err := pdfvalidation.Validate(fileHeader.Filename, content, pdfvalidation.ReferenceLimits); err != nil {
		return response.ErrorWithDetail(c, fiber.StatusUnprocessableEntity, response.ErrorDetail{
			Code:    "INVALID_PDF",
			Message: "The uploaded file is not a usable PDF",
			Details: err.Error(),
		})
	}

	characters, err := h.conversations.AttachReference(c.UserContext(), userID, c.Params("id"), fileHeader.Filename, content)
	if err != nil {
		return h.respondError(c, err)
	}

	return response.Success(c, fiber.Map{"characters": characters})
}
