package api

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/papercomputeco/strata/pkg/backend"
	"github.com/papercomputeco/strata/pkg/fragment"
)

// ErrorResponse is the JSON error envelope for failed requests.
type ErrorResponse struct {
	Error string `json:"error"`
}

// IngestRequest is the payload for POST /fragments.
type IngestRequest struct {
	OwnerID    string            `json:"owner_id"`
	Content    string            `json:"content"`
	Kind       string            `json:"kind,omitempty"`
	Priority   float64           `json:"priority"`
	Attributes map[string]string `json:"attributes,omitempty"`
}

// IngestResponse reports where an ingested fragment landed.
type IngestResponse struct {
	ID   string `json:"id"`
	Tier string `json:"tier"`
}

// EmergencyRequest is the payload for POST /optimize/emergency.
type EmergencyRequest struct {
	TargetUtilization float64 `json:"target_utilization"`
}

// handlePing returns a simple health check response.
func (s *Server) handlePing(c *fiber.Ctx) error {
	return c.JSON("pong")
}

// handleStatus reports the coordinator's running state.
func (s *Server) handleStatus(c *fiber.Ctx) error {
	return c.JSON(s.coord.Status())
}

// handleStats returns operation counters and per-tier usage.
func (s *Server) handleStats(c *fiber.Ctx) error {
	stats, err := s.coord.Stats(c.Context())
	if err != nil {
		s.logger.Error("stats request failed", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(ErrorResponse{Error: "failed to collect stats"})
	}
	return c.JSON(stats)
}

// handleIngest accepts a new fragment.
func (s *Server) handleIngest(c *fiber.Ctx) error {
	var req IngestRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(ErrorResponse{Error: "invalid request body"})
	}
	if req.Content == "" {
		return c.Status(fiber.StatusBadRequest).JSON(ErrorResponse{Error: "content is required"})
	}

	frag := fragment.New(req.OwnerID, req.Content, fragment.Kind(req.Kind), req.Priority)
	frag.Attributes = req.Attributes

	if err := s.coord.Ingest(c.Context(), frag); err != nil {
		s.logger.Error("ingest failed",
			zap.String("fragment_id", frag.ID),
			zap.Error(err),
		)
		return c.Status(fiber.StatusServiceUnavailable).JSON(ErrorResponse{Error: "no tier accepted the fragment"})
	}

	return c.Status(fiber.StatusCreated).JSON(IngestResponse{
		ID:   frag.ID,
		Tier: frag.Tier.String(),
	})
}

// handleGetFragment fetches a fragment from whichever tier holds it.
func (s *Server) handleGetFragment(c *fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return c.Status(fiber.StatusBadRequest).JSON(ErrorResponse{Error: "id parameter required"})
	}

	frag, found, err := s.coord.Get(c.Context(), id)
	if err != nil {
		s.logger.Error("get failed",
			zap.String("fragment_id", id),
			zap.Error(err),
		)
		return c.Status(fiber.StatusInternalServerError).JSON(ErrorResponse{Error: "lookup failed"})
	}
	if !found {
		return c.Status(fiber.StatusNotFound).JSON(ErrorResponse{Error: "fragment not found"})
	}

	return c.JSON(frag)
}

// handleDeleteFragment removes every copy of a fragment.
func (s *Server) handleDeleteFragment(c *fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return c.Status(fiber.StatusBadRequest).JSON(ErrorResponse{Error: "id parameter required"})
	}

	if err := s.coord.Delete(c.Context(), id); err != nil {
		var notFound backend.NotFoundError
		if errors.As(err, &notFound) {
			return c.Status(fiber.StatusNotFound).JSON(ErrorResponse{Error: "fragment not found"})
		}
		s.logger.Error("delete failed",
			zap.String("fragment_id", id),
			zap.Error(err),
		)
		return c.Status(fiber.StatusInternalServerError).JSON(ErrorResponse{Error: "delete failed"})
	}

	return c.SendStatus(fiber.StatusNoContent)
}

// handleProtect shields a fragment from eviction.
func (s *Server) handleProtect(c *fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return c.Status(fiber.StatusBadRequest).JSON(ErrorResponse{Error: "id parameter required"})
	}
	s.coord.Evictor().Protect(id)
	return c.SendStatus(fiber.StatusNoContent)
}

// handleUnprotect removes a fragment's eviction shield.
func (s *Server) handleUnprotect(c *fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return c.Status(fiber.StatusBadRequest).JSON(ErrorResponse{Error: "id parameter required"})
	}
	s.coord.Evictor().Unprotect(id)
	return c.SendStatus(fiber.StatusNoContent)
}

// handleOptimize runs one full maintenance cycle synchronously.
func (s *Server) handleOptimize(c *fiber.Ctx) error {
	report := s.coord.RunOptimizationCycle(c.Context())
	return c.JSON(report)
}

// handleEmergencyOptimize forces tiers down to a target utilization.
func (s *Server) handleEmergencyOptimize(c *fiber.Ctx) error {
	var req EmergencyRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(ErrorResponse{Error: "invalid request body"})
	}
	if req.TargetUtilization <= 0 || req.TargetUtilization >= 1 {
		return c.Status(fiber.StatusBadRequest).JSON(ErrorResponse{Error: "target_utilization must be in (0,1)"})
	}

	report := s.coord.EmergencyOptimize(c.Context(), req.TargetUtilization)
	return c.JSON(report)
}
