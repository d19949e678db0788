package handlers

import (
	"context"
	"path/filepath"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/coverletter-agent/backend/internal/ingestion"
	"github.com/coverletter-agent/backend/internal/storage/models"
	"github.com/coverletter-agent/backend/pkg/fsutil"
	"github.com/coverletter-agent/backend/pkg/logger"
)

type Ingester interface {
	ProcessDir(ctx context.Context, dir string, force bool) (*ingestion.Report, error)
	ProcessFile(ctx context.Context, path, source string, force bool) (*ingestion.FileResult, error)
}

type DocumentLister interface {
	ListDocuments(ctx context.Context) ([]models.Document, error)
}

type DocumentHandler struct {
	ingester Ingester
	docs     DocumentLister
	dataDir  string
}

func NewDocumentHandler(ingester Ingester, docs DocumentLister, dataDir string) *DocumentHandler {
	return &DocumentHandler{
		ingester: ingester,
		docs:     docs,
		dataDir:  dataDir,
	}
}

// UploadDocument stores a multipart "file" under <dataDir>/uploads and
// ingests it.
func (h *DocumentHandler) UploadDocument(c *fiber.Ctx) error {
	file, err := c.FormFile("file")
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "A file field is required",
		})
	}

	name := filepath.Base(file.Filename)
	if name == "." || name == string(filepath.Separator) || !ingestion.Supported(name) {
		return c.Status(fiber.StatusUnsupportedMediaType).JSON(fiber.Map{
			"error": "Unsupported document type",
		})
	}

	dir := filepath.Join(h.dataDir, "uploads")
	if err := fsutil.EnsureDir(dir); err != nil {
		logger.Error("Failed to create upload directory", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to store document",
		})
	}
	path := filepath.Join(dir, name)
	if err := c.SaveFile(file, path); err != nil {
		logger.Error("Failed to save upload", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to store document",
		})
	}

	res, err := h.ingester.ProcessFile(c.Context(), path, "uploads/"+name, c.QueryBool("force"))
	if err != nil {
		logger.Error("Failed to process document", zap.String("file", name), zap.Error(err))
		return c.Status(fiber.StatusUnprocessableEntity).JSON(fiber.Map{
			"error": "Failed to process document",
		})
	}

	return c.Status(fiber.StatusCreated).JSON(res)
}

// Ingest re-walks the whole data directory.
func (h *DocumentHandler) Ingest(c *fiber.Ctx) error {
	var req struct {
		Force bool `json:"force"`
	}
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&req); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": "Invalid request body",
			})
		}
	}

	report, err := h.ingester.ProcessDir(c.Context(), h.dataDir, req.Force)
	if err != nil {
		logger.Error("Ingestion failed", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Ingestion failed",
		})
	}
	return c.JSON(report)
}

func (h *DocumentHandler) ListDocuments(c *fiber.Ctx) error {
	docs, err := h.docs.ListDocuments(c.Context())
	if err != nil {
		logger.Error("Failed to list documents", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to list documents",
		})
	}
	return c.JSON(fiber.Map{
		"documents": docs,
		"count":     len(docs),
	})
}
