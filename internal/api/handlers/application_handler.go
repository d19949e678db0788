package handlers

import (
	"context"
	"errors"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/coverletter-agent/backend/internal/storage/models"
	"github.com/coverletter-agent/backend/internal/storage/sqlite"
	"github.com/coverletter-agent/backend/pkg/logger"
)

type ApplicationReader interface {
	GetApplication(ctx context.Context, id string) (*models.Application, error)
	ListApplications(ctx context.Context, limit int) ([]models.Application, error)
}

type ApplicationHandler struct {
	apps ApplicationReader
}

func NewApplicationHandler(apps ApplicationReader) *ApplicationHandler {
	return &ApplicationHandler{apps: apps}
}

func (h *ApplicationHandler) ListApplications(c *fiber.Ctx) error {
	apps, err := h.apps.ListApplications(c.Context(), c.QueryInt("limit", 50))
	if err != nil {
		logger.Error("Failed to list applications", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to list applications",
		})
	}
	return c.JSON(fiber.Map{
		"applications": apps,
		"count":        len(apps),
	})
}

func (h *ApplicationHandler) GetApplication(c *fiber.Ctx) error {
	app, err := h.apps.GetApplication(c.Context(), c.Params("id"))
	if errors.Is(err, sqlite.ErrNotFound) {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "Application not found",
		})
	}
	if err != nil {
		logger.Error("Failed to get application", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to get application",
		})
	}
	return c.JSON(app)
}
