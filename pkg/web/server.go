// Package web exposes the orchestration core over HTTP and WebSocket:
// utterance submission, cancellation, the diagnostic surface, and the
// live chunk stream observers subscribe to.
package web

import (
	"log/slog"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/websocket/v2"

	"github.com/pandalabs/go-panda/internal/log"
	"github.com/pandalabs/go-panda/pkg/bus"
	"github.com/pandalabs/go-panda/pkg/gateway"
	"github.com/pandalabs/go-panda/pkg/orchestrator"
	"github.com/pandalabs/go-panda/pkg/registry"
)

// Version reported by the health endpoint.
const Version = "0.3.0"

// Server is the HTTP/WebSocket front of the orchestration core.
type Server struct {
	app    *fiber.App
	port   string
	logger *slog.Logger

	orch *orchestrator.Orchestrator
	bus  *bus.Bus
	gw   *gateway.Gateway
	reg  *registry.Registry
}

// NewServer wires the fiber app and routes.
func NewServer(port string, orch *orchestrator.Orchestrator, b *bus.Bus, gw *gateway.Gateway, reg *registry.Registry) *Server {
	s := &Server{
		port:   port,
		logger: log.Component("web"),
		orch:   orch,
		bus:    b,
		gw:     gw,
		reg:    reg,
	}

	app := fiber.New(fiber.Config{
		AppName:               "panda-core",
		DisableStartupMessage: true,
	})

	app.Use(recover.New())
	app.Use(cors.New())

	app.Get("/health", s.handleHealth)

	api := app.Group("/api")
	api.Post("/say", s.handleSay)
	api.Post("/sessions/:id/cancel", s.handleCancel)
	api.Get("/status", s.handleStatus)

	// WebSocket upgrade middleware
	app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	app.Get("/ws/stream/:session", websocket.New(s.handleStreamWS))

	s.app = app
	return s
}

// Start blocks serving HTTP until Shutdown.
func (s *Server) Start() error {
	s.logger.Info("listening", "port", s.port)
	return s.app.Listen(":" + s.port)
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown() error {
	return s.app.Shutdown()
}

// App exposes the fiber app for tests.
func (s *Server) App() *fiber.App {
	return s.app
}
