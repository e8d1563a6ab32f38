package web

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"github.com/pandalabs/go-panda/pkg/orchestrator"
	"github.com/pandalabs/go-panda/pkg/pipeline"
)

// SayRequest is the body of POST /api/say.
type SayRequest struct {
	SessionID string `json:"session_id"`
	Text      string `json:"text"`
}

// SayResponse acknowledges a submitted utterance. Output is observed
// over the session's websocket stream, not in this response.
type SayResponse struct {
	SessionID  string `json:"session_id"`
	Generation uint64 `json:"generation"`
}

// handleSay submits an utterance, creating a session id when omitted.
func (s *Server) handleSay(c *fiber.Ctx) error {
	var req SayRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "invalid request body",
		})
	}

	if req.SessionID == "" {
		req.SessionID = uuid.NewString()
	}

	generation, err := s.orch.Submit(req.SessionID, pipeline.Utterance{Text: req.Text})
	if err != nil {
		status := fiber.StatusInternalServerError
		if errors.Is(err, orchestrator.ErrEmptyUtterance) {
			status = fiber.StatusBadRequest
		}
		return c.Status(status).JSON(fiber.Map{"error": err.Error()})
	}

	return c.JSON(SayResponse{SessionID: req.SessionID, Generation: generation})
}

// handleCancel stops the session's active generation, if any.
func (s *Server) handleCancel(c *fiber.Ctx) error {
	sessionID := c.Params("id")
	cancelled := s.orch.Cancel(sessionID)
	return c.JSON(fiber.Map{
		"session_id": sessionID,
		"cancelled":  cancelled,
	})
}

// handleStatus is the diagnostic surface: circuit state per agent,
// load state per model handle, and live sessions.
func (s *Server) handleStatus(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"agents":   s.gw.Snapshot(),
		"models":   s.reg.Snapshot(),
		"sessions": s.orch.Snapshot(),
	})
}

// handleHealth reports liveness.
func (s *Server) handleHealth(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"status":  "ok",
		"version": Version,
	})
}
