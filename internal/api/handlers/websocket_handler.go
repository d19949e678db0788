package handlers

import (
	"context"
	"errors"

	"github.com/gofiber/websocket/v2"
	"go.uber.org/zap"

	"github.com/coverletter-agent/backend/internal/generation"
	"github.com/coverletter-agent/backend/pkg/apperrors"
	"github.com/coverletter-agent/backend/pkg/logger"
)

// WebSocketHandler drives one session per connection. Clients send
// {"type":"draft"}, {"type":"revise","content":"..."}, {"type":"save"} or
// {"type":"abandon"} and receive the session's events as they happen.
type WebSocketHandler struct {
	registry *generation.Registry
}

func NewWebSocketHandler(registry *generation.Registry) *WebSocketHandler {
	return &WebSocketHandler{
		registry: registry,
	}
}

type clientMessage struct {
	Type    string `json:"type"`
	Content string `json:"content"`
}

type serverMessage struct {
	Type      string            `json:"type"`
	Stage     string            `json:"stage,omitempty"`
	Content   string            `json:"content,omitempty"`
	Letter    string            `json:"letter,omitempty"`
	Error     string            `json:"error,omitempty"`
	Retryable bool              `json:"retryable,omitempty"`
	State     generation.State  `json:"state,omitempty"`
	Saved     *generation.Saved `json:"saved,omitempty"`
}

var errConnectionDone = errors.New("connection done")

// jsonConn is the part of *websocket.Conn the session loop uses.
type jsonConn interface {
	ReadJSON(v interface{}) error
	WriteJSON(v interface{}) error
}

func (h *WebSocketHandler) HandleConnection(c *websocket.Conn) {
	id := c.Params("id")
	logger.Info("WebSocket connection established", zap.String("session_id", id))
	defer func() {
		c.Close()
		logger.Info("WebSocket connection closed", zap.String("session_id", id))
	}()

	h.serve(id, c)
}

func (h *WebSocketHandler) serve(id string, c jsonConn) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	s, ok := h.registry.Get(id)
	if !ok {
		h.sendError(c, errors.New("session not found"))
		return
	}

	messages := make(chan clientMessage)
	go readMessages(ctx, cancel, c, messages)

	for {
		var msg clientMessage
		select {
		case <-ctx.Done():
			return
		case msg, ok = <-messages:
			if !ok {
				return
			}
		}

		var err error
		switch msg.Type {
		case "draft":
			err = h.stream(ctx, cancel, c, s, messages, func() (<-chan generation.Event, error) { return s.Draft(ctx) })
		case "revise":
			content := msg.Content
			err = h.stream(ctx, cancel, c, s, messages, func() (<-chan generation.Event, error) { return s.Revise(ctx, content) })
		case "save":
			saved, saveErr := s.Save(ctx)
			if saveErr != nil {
				h.sendError(c, saveErr)
				continue
			}
			err = c.WriteJSON(serverMessage{Type: "saved", State: s.State(), Saved: saved})
		case "abandon":
			h.abandon(c, s)
			return
		default:
			h.sendError(c, errors.New("unknown message type "+msg.Type))
			continue
		}
		if errors.Is(err, errConnectionDone) {
			return
		}
		if err != nil {
			logger.Error("Failed to write WebSocket message", zap.Error(err))
			return
		}
	}
}

// readMessages feeds client frames to out until the connection fails. A
// read failure means the client is gone, so in-flight work is cancelled.
func readMessages(ctx context.Context, cancel context.CancelFunc, c jsonConn, out chan<- clientMessage) {
	defer close(out)
	for {
		var msg clientMessage
		if err := c.ReadJSON(&msg); err != nil {
			logger.Debug("WebSocket read ended", zap.Error(err))
			cancel()
			return
		}
		select {
		case out <- msg:
		case <-ctx.Done():
			return
		}
	}
}

func (h *WebSocketHandler) abandon(c jsonConn, s *generation.Session) {
	if err := s.Abandon(); err != nil {
		h.sendError(c, err)
		return
	}
	h.registry.Remove(s.ID)
	c.WriteJSON(serverMessage{Type: "abandoned", State: s.State()})
}

// stream forwards every event of one operation while still listening to the
// client. An abandon frame, a lost client or a failed write stops the
// upstream call; the channel is then drained so the session can finish.
func (h *WebSocketHandler) stream(ctx context.Context, cancel context.CancelFunc, c jsonConn, s *generation.Session, messages <-chan clientMessage, start func() (<-chan generation.Event, error)) error {
	events, err := start()
	if err != nil {
		h.sendError(c, err)
		return nil
	}

	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			if err := c.WriteJSON(eventMessage(s, ev)); err != nil {
				cancel()
				drainEvents(events)
				return err
			}

		case msg, ok := <-messages:
			if !ok {
				drainEvents(events)
				return errConnectionDone
			}
			if msg.Type == "abandon" {
				h.abandon(c, s)
				drainEvents(events)
				return errConnectionDone
			}
			h.sendError(c, generation.ErrBusy)

		case <-ctx.Done():
			drainEvents(events)
			return errConnectionDone
		}
	}
}

func eventMessage(s *generation.Session, ev generation.Event) serverMessage {
	msg := serverMessage{
		Type:    string(ev.Type),
		Stage:   ev.Stage,
		Content: ev.Content,
		Letter:  ev.Letter,
	}
	switch ev.Type {
	case generation.EventError:
		msg.Error = ev.Err.Error()
		msg.Retryable = apperrors.IsRetryable(ev.Err)
		msg.State = s.State()
	case generation.EventDone:
		msg.State = s.State()
	}
	return msg
}

func drainEvents(events <-chan generation.Event) {
	for range events {
	}
}

func (h *WebSocketHandler) sendError(c jsonConn, err error) {
	c.WriteJSON(serverMessage{
		Type:      "error",
		Error:     err.Error(),
		Retryable: apperrors.IsRetryable(err),
	})
}
