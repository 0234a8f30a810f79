package api

import (
	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/papercomputeco/strata/pkg/coordinator"
)

// Server is the API server for the strata coordinator.
type Server struct {
	config Config
	coord  *coordinator.Coordinator
	logger *zap.Logger
	app    *fiber.App
}

// NewServer creates a new API server over an already-constructed
// coordinator so the same instance can serve other surfaces.
func NewServer(config Config, coord *coordinator.Coordinator, logger *zap.Logger) *Server {
	app := fiber.New(fiber.Config{
		DisableStartupMessage: true,
	})

	s := &Server{
		config: config,
		coord:  coord,
		logger: logger,
		app:    app,
	}

	app.Get("/ping", s.handlePing)
	app.Get("/status", s.handleStatus)
	app.Get("/stats", s.handleStats)

	app.Post("/fragments", s.handleIngest)
	app.Get("/fragments/:id", s.handleGetFragment)
	app.Delete("/fragments/:id", s.handleDeleteFragment)
	app.Post("/fragments/:id/protect", s.handleProtect)
	app.Delete("/fragments/:id/protect", s.handleUnprotect)

	app.Post("/optimize", s.handleOptimize)
	app.Post("/optimize/emergency", s.handleEmergencyOptimize)

	return s
}

// Run starts the API server on the configured address.
func (s *Server) Run() error {
	s.logger.Info("starting API server",
		zap.String("listen", s.config.ListenAddr),
	)
	return s.app.Listen(s.config.ListenAddr)
}

// Shutdown gracefully shuts down the API server.
func (s *Server) Shutdown() error {
	return s.app.Shutdown()
}
