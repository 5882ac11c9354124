package operator

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/websocket/v2"
	"go.uber.org/zap"

	"github.com/edgeturret/turretcore/internal/arbiter"
	"github.com/edgeturret/turretcore/internal/calibstore"
	"github.com/edgeturret/turretcore/internal/metrics"
	"github.com/edgeturret/turretcore/internal/telemetry"
	"github.com/edgeturret/turretcore/internal/tracking"
)

// Server is the operator-facing REST/WebSocket surface, adapted from the
// teacher's fiber app wiring (cmd/edgeflow/main.go, internal/api/handlers.go).
type Server struct {
	app   *fiber.App
	hub   *Hub
	arb   *arbiter.CommandArbiter
	tc    *tracking.TrackingController
	store *calibstore.Store
	log   *zap.Logger
}

// Config configures the operator HTTP surface.
type Config struct {
	Addr string
}

// NewServer builds the fiber app, wires its routes, and starts relaying
// telemetry snapshots from pub to the operator hub. store may be nil, in
// which case PUT /api/calibration updates the in-memory calibration only.
// Call Listen to serve.
func NewServer(arb *arbiter.CommandArbiter, tc *tracking.TrackingController, store *calibstore.Store, pub *telemetry.Publisher, m *metrics.Metrics, log *zap.Logger) *Server {
	hub := NewHub()
	go hub.Run()

	snapshots := make(chan telemetry.Snapshot, 8)
	pub.Subscribe(snapshots)
	go func() {
		for snap := range snapshots {
			hub.BroadcastTelemetry(snap)
		}
	}()

	app := fiber.New(fiber.Config{
		AppName:      "turretd",
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	})

	app.Use(recover.New())
	app.Use(logger.New())
	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowMethods: "GET,POST,PUT,OPTIONS",
		AllowHeaders: "Origin, Content-Type, Accept, Authorization",
	}))
	if m != nil {
		app.Use(metrics.FiberMiddleware(m))
	}

	s := &Server{app: app, hub: hub, arb: arb, tc: tc, store: store, log: log}
	s.setupRoutes(m, pub)
	return s
}

func (s *Server) setupRoutes(m *metrics.Metrics, pub *telemetry.Publisher) {
	s.app.Get("/api/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})

	s.app.Get("/api/telemetry", func(c *fiber.Ctx) error {
		return c.JSON(pub.Snapshot())
	})

	if m != nil {
		s.app.Get("/api/metrics", func(c *fiber.Ctx) error {
			c.Set(fiber.HeaderContentType, "text/plain; version=0.0.4")
			return c.SendString(m.PrometheusFormat())
		})
	}

	s.app.Post("/api/command", func(c *fiber.Ctx) error {
		cmd, err := decodeCommand(c.Body())
		if err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"ok": false, "reason": err.Error()})
		}
		resp := s.arb.Submit(cmd)
		status := fiber.StatusOK
		if !resp.OK {
			status = fiber.StatusConflict
		}
		return c.Status(status).JSON(fiber.Map{"ok": resp.OK, "reason": resp.Reason})
	})

	s.app.Get("/api/calibration", func(c *fiber.Ctx) error {
		return c.JSON(s.tc.Calibration())
	})

	s.app.Put("/api/calibration", func(c *fiber.Ctx) error {
		calib := s.tc.Calibration()
		if err := c.BodyParser(&calib); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"ok": false, "reason": err.Error()})
		}
		s.tc.ReplaceCalibration(calib)
		if s.store != nil {
			if err := s.store.Save(calib); err != nil {
				s.log.Warn("calibration persisted in memory but failed to write to disk", zap.Error(err))
			}
		}
		return c.JSON(fiber.Map{"ok": true})
	})

	s.app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			c.Locals("allowed", true)
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	s.app.Get("/ws", websocket.New(func(c *websocket.Conn) {
		s.hub.HandleWebSocket(c)
	}))
}

// Listen starts serving on addr. Blocks until the server stops or errors.
func (s *Server) Listen(addr string) error {
	return s.app.Listen(addr)
}

// Shutdown gracefully stops the fiber app and the operator hub.
func (s *Server) Shutdown() error {
	s.hub.Close()
	return s.app.Shutdown()
}

// App exposes the underlying fiber app for tests that drive it in-process.
func (s *Server) App() *fiber.App {
	return s.app
}

// Hub exposes the operator broadcast hub so callers can wire it into
// logger.SetBroadcaster.
func (s *Server) Hub() *Hub {
	return s.hub
}
