// Package response writes the API's JSON bodies. Every failure uses the
// envelope {"error":{"code","message","details"}}.
package response

import (
	"github.com/gofiber/fiber/v2"
	"github.com/stemtranscriber/api/internal/model"
)

// HTTP error codes.
const (
	CodeValidationError = "VALIDATION_ERROR"
	CodeBadRequest      = "BAD_REQUEST"
	CodeUnauthorized    = "UNAUTHORIZED"
	CodeNotFound        = "NOT_FOUND"
	CodeRateLimited     = "RATE_LIMITED"
	CodeServiceError    = "SERVICE_ERROR"
)

// Job failure codes carried by websocket error events.
const (
	CodeSeparationFailed    = "SEPARATION_FAILED"
	CodeTranscriptionFailed = "TRANSCRIPTION_FAILED"
	CodeJobFailed           = "JOB_FAILED"
)

// JobFailureCode names the failure code for a job of the given kind.
func JobFailureCode(kind model.JobKind) string {
	switch kind {
	case model.JobKindSeparation:
		return CodeSeparationFailed
	case model.JobKindTranscription:
		return CodeTranscriptionFailed
	}
	return CodeJobFailed
}

type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

type ErrorDetail struct {
	Code    string      `json:"code"`
	Message string      `json:"message"`
	Details interface{} `json:"details,omitempty"`
}

func Error(c *fiber.Ctx, status int, code, message string, details interface{}) error {
	return c.Status(status).JSON(ErrorResponse{
		Error: ErrorDetail{Code: code, Message: message, Details: details},
	})
}

// ValidationError carries the per-field messages in details.
func ValidationError(c *fiber.Ctx, message string, details interface{}) error {
	return Error(c, fiber.StatusBadRequest, CodeValidationError, message, details)
}

// BadRequest reports a well-formed request the current project state cannot serve.
func BadRequest(c *fiber.Ctx, message string) error {
	return Error(c, fiber.StatusBadRequest, CodeBadRequest, message, nil)
}

func Unauthorized(c *fiber.Ctx, message string) error {
	return Error(c, fiber.StatusUnauthorized, CodeUnauthorized, message, nil)
}

func NotFound(c *fiber.Ctx, message string) error {
	return Error(c, fiber.StatusNotFound, CodeNotFound, message, nil)
}

// RateLimited is sent once a user or IP exhausts its hourly window.
func RateLimited(c *fiber.Ctx) error {
	return Error(c, fiber.StatusTooManyRequests, CodeRateLimited, "Rate limit exceeded", nil)
}

func ServiceError(c *fiber.Ctx, message string) error {
	return Error(c, fiber.StatusInternalServerError, CodeServiceError, message, nil)
}

func OK(c *fiber.Ctx, data interface{}) error {
	return c.JSON(data)
}

func Created(c *fiber.Ctx, data interface{}) error {
	return c.Status(fiber.StatusCreated).JSON(data)
}

// Accepted answers job submissions; the body carries the queued job.
func Accepted(c *fiber.Ctx, data interface{}) error {
	return c.Status(fiber.StatusAccepted).JSON(data)
}
