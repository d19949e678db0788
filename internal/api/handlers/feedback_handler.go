package handlers

import (
	"context"
	"errors"
	"strings"
	"sync"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/coverletter-agent/backend/internal/feedback"
	"github.com/coverletter-agent/backend/internal/improver"
	"github.com/coverletter-agent/backend/pkg/apperrors"
	"github.com/coverletter-agent/backend/pkg/logger"
)

type FeedbackStore interface {
	Record(category feedback.Category, text string, opts ...feedback.Option) error
	Counts() map[feedback.Category]int
	Entries(category feedback.Category) []feedback.Entry
}

type PromptImprover interface {
	Threshold() int
	Ready() []feedback.Category
	MaybeSuggest(ctx context.Context, category feedback.Category) (*improver.ProposedEdit, error)
	Apply(ctx context.Context, edit *improver.ProposedEdit) error
}

// FeedbackHandler exposes feedback counts and the suggest/apply cycle. A
// suggestion is held per category until it is applied or replaced.
type FeedbackHandler struct {
	feedback   FeedbackStore
	improver   PromptImprover
	classifier feedback.Classifier

	mu      sync.Mutex
	pending map[feedback.Category]*improver.ProposedEdit
}

func NewFeedbackHandler(store FeedbackStore, imp PromptImprover) *FeedbackHandler {
	return &FeedbackHandler{
		feedback: store,
		improver: imp,
		pending:  make(map[feedback.Category]*improver.ProposedEdit),
	}
}

func (h *FeedbackHandler) GetCounts(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"counts":    h.feedback.Counts(),
		"threshold": h.improver.Threshold(),
		"ready":     h.improver.Ready(),
	})
}

func (h *FeedbackHandler) GetEntries(c *fiber.Ctx) error {
	category := feedback.Category(c.Params("category"))
	if !category.Valid() {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Unknown feedback category",
		})
	}
	return c.JSON(fiber.Map{
		"category": category,
		"entries":  h.feedback.Entries(category),
	})
}

// RecordFeedback classifies and stores feedback given outside a session.
func (h *FeedbackHandler) RecordFeedback(c *fiber.Ctx) error {
	var req struct {
		Text     string `json:"text"`
		Company  string `json:"company"`
		JobTitle string `json:"job_title"`
	}
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}
	req.Text = strings.TrimSpace(req.Text)
	if req.Text == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Feedback text is required",
		})
	}

	category := h.classifier.Classify(req.Text)
	if err := h.feedback.Record(category, req.Text, feedback.WithJob(req.Company, req.JobTitle)); err != nil {
		logger.Error("Failed to record feedback", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to record feedback",
		})
	}

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"category": category,
		"count":    h.feedback.Counts()[category],
	})
}

func (h *FeedbackHandler) Suggest(c *fiber.Ctx) error {
	category := feedback.Category(c.Params("category"))
	if !category.Valid() {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Unknown feedback category",
		})
	}

	edit, err := h.improver.MaybeSuggest(c.Context(), category)
	if err != nil {
		logger.Error("Failed to build prompt suggestion", zap.String("category", string(category)), zap.Error(err))
		status := fiber.StatusInternalServerError
		if errors.Is(err, apperrors.ErrGeneration) {
			status = fiber.StatusBadGateway
		}
		return c.Status(status).JSON(fiber.Map{
			"error":     err.Error(),
			"retryable": apperrors.IsRetryable(err),
		})
	}
	if edit == nil {
		return c.JSON(fiber.Map{
			"category":   category,
			"suggestion": nil,
			"count":      h.feedback.Counts()[category],
			"threshold":  h.improver.Threshold(),
		})
	}

	h.mu.Lock()
	h.pending[category] = edit
	h.mu.Unlock()

	return c.JSON(fiber.Map{
		"category":   category,
		"suggestion": edit,
	})
}

// Apply applies the held suggestion for the category. Suggest must have run
// first.
func (h *FeedbackHandler) Apply(c *fiber.Ctx) error {
	category := feedback.Category(c.Params("category"))

	h.mu.Lock()
	edit, ok := h.pending[category]
	h.mu.Unlock()
	if !ok {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "No pending suggestion for this category",
		})
	}

	if err := h.improver.Apply(c.Context(), edit); err != nil {
		logger.Error("Failed to apply prompt improvement", zap.String("category", string(category)), zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error":     err.Error(),
			"retryable": apperrors.IsRetryable(err),
		})
	}

	h.mu.Lock()
	if h.pending[category] == edit {
		delete(h.pending, category)
	}
	h.mu.Unlock()

	return c.JSON(fiber.Map{
		"category": category,
		"applied":  true,
	})
}
