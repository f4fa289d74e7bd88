package handler

import (
	"errors"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/stemtranscriber/api/internal/model"
	"github.com/stemtranscriber/api/internal/service"
	"github.com/stemtranscriber/api/pkg/response"
)

const maxUploadSize = 200 * 1024 * 1024 // 200MB

type ProjectHandler struct {
	service   *service.ProjectService
	validator *validator.Validate
}

func NewProjectHandler(svc *service.ProjectService, v *validator.Validate) *ProjectHandler {
	return &ProjectHandler{
		service:   svc,
		validator: v,
	}
}

// List handles GET /api/projects
func (h *ProjectHandler) List(c *fiber.Ctx) error {
	projects, err := h.service.List(c.UserContext())
	if err != nil {
		return response.ServiceError(c, err.Error())
	}
	return response.OK(c, model.ListProjectsResponse{Projects: projects})
}

// Create handles POST /api/projects. The body is optional.
func (h *ProjectHandler) Create(c *fiber.Ctx) error {
	var req model.CreateProjectRequest
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&req); err != nil {
			return response.ValidationError(c, "Invalid request body", nil)
		}
	}

	if err := h.validator.Struct(&req); err != nil {
		return response.ValidationError(c, "Validation failed", formatValidationErrors(err))
	}

	p, err := h.service.Create(c.UserContext(), req.Name)
	if err != nil {
		return response.ServiceError(c, err.Error())
	}
	return response.Created(c, p)
}

// Upload handles POST /api/projects/:projectId/upload (multipart field "audio")
func (h *ProjectHandler) Upload(c *fiber.Ctx) error {
	file, err := c.FormFile("audio")
	if err != nil {
		return response.ValidationError(c, "File is required", nil)
	}

	if file.Size > maxUploadSize {
		return response.ValidationError(c, "File size exceeds 200MB limit", map[string]interface{}{
			"maxSize":  maxUploadSize,
			"fileSize": file.Size,
		})
	}

	src, err := file.Open()
	if err != nil {
		return response.ServiceError(c, "Failed to read uploaded file")
	}
	defer src.Close()

	result, err := h.service.Upload(c.UserContext(), c.Params("projectId"), file.Filename, src)
	if err != nil {
		return projectError(c, err)
	}
	return response.OK(c, result)
}

// Stems handles GET /api/projects/:projectId/stems
func (h *ProjectHandler) Stems(c *fiber.Ctx) error {
	items, err := h.service.Stems(c.UserContext(), c.Params("projectId"))
	if err != nil {
		return projectError(c, err)
	}
	return response.OK(c, items)
}

// Transcriptions handles GET /api/projects/:projectId/transcriptions
func (h *ProjectHandler) Transcriptions(c *fiber.Ctx) error {
	items, err := h.service.Transcriptions(c.UserContext(), c.Params("projectId"))
	if err != nil {
		return projectError(c, err)
	}
	return response.OK(c, items)
}

func projectError(c *fiber.Ctx, err error) error {
	if errors.Is(err, service.ErrProjectNotFound) {
		return response.NotFound(c, "Project not found")
	}
	return response.ServiceError(c, err.Error())
}
