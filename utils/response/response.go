package response

import (
	"github.com/gofiber/fiber/v2"
)

// Response is the envelope every copilot endpoint answers with
type Response struct {
	Success bool         `json:"success"`
	Message string       `json:"message,omitempty"`
	Data    interface{}  `json:"data,omitempty"`
	Error   *ErrorDetail `json:"error,omitempty"`
}

// ErrorDetail contains error information. Retryable tells the client whether
// re-sending the same request is safe.
type ErrorDetail struct {
	Code      string      `json:"code"`
	Message   string      `json:"message"`
	Details   string      `json:"details,omitempty"`
	Retryable bool        `json:"retryable"`
	Data      interface{} `json:"data,omitempty"`
}

// Success returns a successful response
func Success(c *fiber.Ctx, data interface{}) error {
	return c.Status(fiber.StatusOK).JSON(Response{
		Success: true,
		Data:    data,
	})
}

// SuccessWithMessage returns a successful response with a message
func SuccessWithMessage(c *fiber.Ctx, message string, data interface{}) error {
	return c.Status(fiber.StatusOK).JSON(Response{
		Success: true,
		Message: message,
		Data:    data,
	})
}

// Error returns a non-retryable error response
func Error(c *fiber.Ctx, statusCode int, message string, code string) error {
	return ErrorWithDetail(c, statusCode, ErrorDetail{
		Code:    code,
		Message: message,
	})
}

// ErrorWithDetail returns an error response carrying a fully populated detail
func ErrorWithDetail(c *fiber.Ctx, statusCode int, detail ErrorDetail) error {
	return c.Status(statusCode).JSON(Response{
		Success: false,
		Error:   &detail,
	})
}

// BadRequest returns a 400 for bodies that could not be read at all
func BadRequest(c *fiber.Ctx, message string) error {
	return Error(c, fiber.StatusBadRequest, message, "BAD_REQUEST")
}

// Unauthorized returns a 401 Unauthorized response
func Unauthorized(c *fiber.Ctx, message string) error {
	if message == "" {
		message = "Unauthorized access"
	}
	return Error(c, fiber.StatusUnauthorized, message, "UNAUTHORIZED")
}

// Forbidden returns a 403 for authenticated users without a course authoring role
func Forbidden(c *fiber.Ctx, message string) error {
	if message == "" {
		message = "You are not allowed to create courses"
	}
	return Error(c, fiber.StatusForbidden, message, "FORBIDDEN")
}

// ValidationFailed returns a 422 with the offending fields keyed by their
// struct namespace
func ValidationFailed(c *fiber.Ctx, err error, fields map[string]string) error {
	return ErrorWithDetail(c, fiber.StatusUnprocessableEntity, ErrorDetail{
		Code:    "VALIDATION_ERROR",
		Message: "Validation failed",
		Details: err.Error(),
		Data:    fields,
	})
}

// TooManyRequests is sent when the per-user request budget is spent
func TooManyRequests(c *fiber.Ctx) error {
	return ErrorWithDetail(c, fiber.StatusTooManyRequests, ErrorDetail{
		Code:      "RATE_LIMIT_EXCEEDED",
		Message:   "Too many requests. Please try again later.",
		Retryable: true,
	})
}

// ServiceUnavailable returns a 503 Service Unavailable response. Nothing was
// saved, so the same request may be sent again.
func ServiceUnavailable(c *fiber.Ctx, message string) error {
	if message == "" {
		message = "Service temporarily unavailable"
	}
	return ErrorWithDetail(c, fiber.StatusServiceUnavailable, ErrorDetail{
		Code:      "SERVICE_UNAVAILABLE",
		Message:   message,
		Retryable: true,
	})
}
