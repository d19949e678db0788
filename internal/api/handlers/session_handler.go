package handlers

import (
	"errors"
	"strings"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/coverletter-agent/backend/internal/generation"
	"github.com/coverletter-agent/backend/pkg/apperrors"
	"github.com/coverletter-agent/backend/pkg/logger"
)

type SessionHandler struct {
	orchestrator *generation.Orchestrator
	registry     *generation.Registry
}

func NewSessionHandler(orchestrator *generation.Orchestrator, registry *generation.Registry) *SessionHandler {
	return &SessionHandler{
		orchestrator: orchestrator,
		registry:     registry,
	}
}

type sessionView struct {
	ID              string            `json:"id"`
	State           generation.State  `json:"state"`
	Busy            bool              `json:"busy"`
	CompanyName     string            `json:"company_name,omitempty"`
	JobTitle        string            `json:"job_title,omitempty"`
	Draft           string            `json:"draft,omitempty"`
	Previous        string            `json:"previous,omitempty"`
	Revisions       int               `json:"revisions"`
	PendingFeedback int               `json:"pending_feedback"`
	Sources         []string          `json:"sources,omitempty"`
	TotalCost       float64           `json:"total_cost"`
	Saved           *generation.Saved `json:"saved,omitempty"`
}

func viewOf(s *generation.Session) sessionView {
	req := s.Request()
	return sessionView{
		ID:              s.ID,
		State:           s.State(),
		Busy:            s.Busy(),
		CompanyName:     req.CompanyName,
		JobTitle:        req.JobTitle,
		Draft:           s.Current(),
		Previous:        s.Previous(),
		Revisions:       s.Revisions(),
		PendingFeedback: s.PendingFeedback(),
		Sources:         s.Context().Sources(),
		TotalCost:       s.TotalCost(),
		Saved:           s.Saved(),
	}
}

func (h *SessionHandler) CreateSession(c *fiber.Ctx) error {
	var req generation.Request
	if err := c.BodyParser(&req); err != nil {
		logger.Error("Failed to parse request body", zap.Error(err))
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}

	req.JobDescription = strings.TrimSpace(req.JobDescription)
	if req.JobDescription == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Job description is required",
		})
	}

	s := h.orchestrator.NewSession(req)
	h.registry.Add(s)

	return c.Status(fiber.StatusCreated).JSON(viewOf(s))
}

func sessionNotFound(c *fiber.Ctx) error {
	return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
		"error": "Session not found",
	})
}

func (h *SessionHandler) GetSession(c *fiber.Ctx) error {
	s, ok := h.registry.Get(c.Params("id"))
	if !ok {
		return sessionNotFound(c)
	}
	return c.JSON(viewOf(s))
}

// Draft runs the draft to completion and returns the session. Clients that
// want tokens as they arrive use the websocket route instead.
func (h *SessionHandler) Draft(c *fiber.Ctx) error {
	s, ok := h.registry.Get(c.Params("id"))
	if !ok {
		return sessionNotFound(c)
	}

	events, err := s.Draft(c.Context())
	if err != nil {
		return sessionError(c, err)
	}
	if last := drain(events); last.Type == generation.EventError {
		return sessionError(c, last.Err)
	}
	return c.JSON(viewOf(s))
}

func (h *SessionHandler) Revise(c *fiber.Ctx) error {
	s, ok := h.registry.Get(c.Params("id"))
	if !ok {
		return sessionNotFound(c)
	}

	var req struct {
		Feedback string `json:"feedback"`
	}
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}

	events, err := s.Revise(c.Context(), req.Feedback)
	if err != nil {
		return sessionError(c, err)
	}
	if last := drain(events); last.Type == generation.EventError {
		return sessionError(c, last.Err)
	}
	return c.JSON(viewOf(s))
}

func (h *SessionHandler) Save(c *fiber.Ctx) error {
	s, ok := h.registry.Get(c.Params("id"))
	if !ok {
		return sessionNotFound(c)
	}

	saved, err := s.Save(c.Context())
	if err != nil {
		return sessionError(c, err)
	}
	return c.JSON(saved)
}

func (h *SessionHandler) Abandon(c *fiber.Ctx) error {
	s, ok := h.registry.Get(c.Params("id"))
	if !ok {
		return sessionNotFound(c)
	}

	if err := s.Abandon(); err != nil && !errors.Is(err, generation.ErrInvalidState) {
		return sessionError(c, err)
	}
	h.registry.Remove(s.ID)
	return c.SendStatus(fiber.StatusNoContent)
}

// drain reads a stream to the end and returns its terminal event.
func drain(events <-chan generation.Event) generation.Event {
	var last generation.Event
	for ev := range events {
		last = ev
	}
	return last
}

func sessionError(c *fiber.Ctx, err error) error {
	status := fiber.StatusInternalServerError
	switch {
	case errors.Is(err, generation.ErrBusy), errors.Is(err, generation.ErrInvalidState):
		status = fiber.StatusConflict
	case errors.Is(err, generation.ErrEmptyFeedback):
		status = fiber.StatusBadRequest
	case errors.Is(err, apperrors.ErrGeneration):
		status = fiber.StatusBadGateway
	}

	if status >= fiber.StatusInternalServerError {
		logger.Error("Session operation failed", zap.String("path", c.Path()), zap.Error(err))
	}
	return c.Status(status).JSON(fiber.Map{
		"error":     err.Error(),
		"retryable": apperrors.IsRetryable(err),
	})
}
