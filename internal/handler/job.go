package handler

import (
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/stemtranscriber/api/internal/model"
	"github.com/stemtranscriber/api/internal/service"
	"github.com/stemtranscriber/api/pkg/response"
)

type JobHandler struct {
	service   *service.DispatchService
	validator *validator.Validate
}

func NewJobHandler(svc *service.DispatchService, v *validator.Validate) *JobHandler {
	return &JobHandler{
		service:   svc,
		validator: v,
	}
}

// Separate handles POST /api/projects/:projectId/separate
func (h *JobHandler) Separate(c *fiber.Ctx) error {
	jobID, err := h.service.EnqueueSeparation(c.UserContext(), c.Params("projectId"))
	if err != nil {
		switch {
		case errors.Is(err, service.ErrProjectNotFound):
			return response.NotFound(c, "Project not found")
		case errors.Is(err, service.ErrNoUpload):
			return response.BadRequest(c, "No uploaded audio found")
		}
		return response.ServiceError(c, err.Error())
	}

	return response.Accepted(c, model.CreateJobResponse{JobID: jobID, State: model.JobStateQueued})
}

// Transcribe handles POST /api/projects/:projectId/transcribe. Missing
// fields default to the bass stem transcribed as bass.
func (h *JobHandler) Transcribe(c *fiber.Ctx) error {
	var req model.TranscribeRequest
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&req); err != nil {
			return response.ValidationError(c, "Invalid request body", nil)
		}
	}
	if req.StemName == "" {
		req.StemName = model.StemBass
	}
	if req.Instrument == "" {
		req.Instrument = model.InstrumentBass
	}

	if err := h.validator.Struct(&req); err != nil {
		return response.ValidationError(c, "Validation failed", formatValidationErrors(err))
	}

	jobID, err := h.service.EnqueueTranscription(c.UserContext(), c.Params("projectId"), req.StemName, req.Instrument)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrProjectNotFound):
			return response.NotFound(c, "Project not found")
		case errors.Is(err, service.ErrStemNotFound):
			return response.BadRequest(c, fmt.Sprintf("Stem not found: %s", req.StemName))
		}
		return response.ServiceError(c, err.Error())
	}

	return response.Accepted(c, model.CreateJobResponse{JobID: jobID, State: model.JobStateQueued})
}

// Status handles GET /api/jobs/:jobId. Unknown ids answer 200 with state
// not_found.
func (h *JobHandler) Status(c *fiber.Ctx) error {
	jobID := c.Params("jobId")
	if jobID == "" {
		return response.ValidationError(c, "Job ID is required", nil)
	}

	result, err := h.service.GetJob(c.UserContext(), jobID)
	if err != nil {
		return response.ServiceError(c, err.Error())
	}
	return response.OK(c, result)
}
