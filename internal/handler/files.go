package handler

import (
	"errors"
	"path/filepath"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/stemtranscriber/api/internal/service"
	"github.com/stemtranscriber/api/pkg/response"
)

type FileHandler struct {
	service *service.ProjectService
}

func NewFileHandler(svc *service.ProjectService) *FileHandler {
	return &FileHandler{service: svc}
}

// Stem handles GET|HEAD /files/:projectId/stems/:filename, with byte ranges.
func (h *FileHandler) Stem(c *fiber.Ctx) error {
	path, err := h.service.StemFile(c.Params("projectId"), c.Params("filename"))
	if err != nil {
		return fileError(c, err)
	}

	if err := c.SendFile(path); err != nil {
		return err
	}
	c.Set(fiber.HeaderContentType, "audio/x-wav")
	c.Set(fiber.HeaderAcceptRanges, "bytes")
	return nil
}

// Transcription handles GET|HEAD /files/:projectId/transcriptions/:filename.
// Transcriptions are regenerated in place, so they are never cached.
func (h *FileHandler) Transcription(c *fiber.Ctx) error {
	name := c.Params("filename")
	path, err := h.service.TranscriptionFile(c.Params("projectId"), name)
	if err != nil {
		return fileError(c, err)
	}

	if err := c.SendFile(path); err != nil {
		return err
	}
	c.Set(fiber.HeaderContentType, transcriptionType(name))
	c.Set(fiber.HeaderCacheControl, "no-store")
	return nil
}

func transcriptionType(name string) string {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".xml", ".musicxml":
		return "application/xml"
	}
	return "application/octet-stream"
}

func fileError(c *fiber.Ctx, err error) error {
	if errors.Is(err, service.ErrFileNotFound) {
		return response.NotFound(c, "File not found")
	}
	return response.ServiceError(c, err.Error())
}
