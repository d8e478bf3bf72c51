package app

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"go.uber.org/zap"

	"watchparty-backend/internal/db"
	"watchparty-backend/internal/handlers"
	"watchparty-backend/internal/metrics"
	"watchparty-backend/internal/room"
	"watchparty-backend/internal/services"
	"watchparty-backend/internal/utils"
)

// Server is the assembled HTTP and websocket server.
type Server struct {
	App      *fiber.App
	Gateway  *handlers.Gateway
	Registry *room.Registry
	Auth     *services.AuthService
	Metrics  *metrics.Metrics
	Logger   *zap.Logger

	cfg Config
}

// New wires services, handlers and routes. store holds room metadata.
func New(cfg Config, log *zap.Logger, store services.RoomStore) (*Server, error) {
	if log == nil {
		log = zap.NewNop()
	}

	registry := room.NewRegistry(cfg.ChatHistorySize)
	met := metrics.New()
	deps := services.Deps{Registry: registry, Metrics: met, Logger: log}

	presence := services.NewPresenceService(deps)
	playback := services.NewPlaybackService(deps, cfg.HostOnlyControl)
	chat := services.NewChatService(deps, cfg.ChatMaxLength)
	auth := services.NewAuthService(cfg.JWTSecret, cfg.TokenTTL)
	rooms, err := services.NewRoomService(store)
	if err != nil {
		return nil, err
	}

	gw := &handlers.Gateway{
		Presence:    presence,
		Playback:    playback,
		Chat:        chat,
		Rooms:       rooms,
		Clients:     handlers.NewClientManager(),
		Metrics:     met,
		Logger:      log,
		SendBuffer:  cfg.SendBuffer,
		MetaTimeout: cfg.MetaTimeout,
	}

	app := fiber.New(fiber.Config{
		AppName:               "watchparty",
		DisableStartupMessage: true,
	})

	// Middleware
	app.Use(logger.New())
	app.Use(recover.New())
	app.Use(cors.New(cors.Config{AllowOrigins: cfg.AllowedOrigins}))
	app.Use(metrics.RequestMiddleware(met))

	// Health Check
	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok", "rooms": registry.Len()})
	})
	app.Get("/metrics", met.Handler(func() {
		met.SetActiveRooms(registry.Len())
	}))

	// Routes
	api := app.Group("/api")
	if cfg.GuestAuth {
		api.Post("/auth/guest", handlers.GuestAuthHandler(auth))
	}
	api.Get("/rooms/:code", handlers.GetRoomHandler(rooms, presence, playback))
	api.Post("/rooms", handlers.AuthMiddleware(auth, true), handlers.CreateRoomHandler(rooms))

	// WebSocket Route
	// Note: Middleware order matters. WSUpgradeMiddleware rejects plain
	// HTTP before the token is checked.
	app.Use("/ws", handlers.WSUpgradeMiddleware)
	app.Use("/ws", handlers.AuthMiddleware(auth, cfg.RequireAuth))
	app.Get("/ws", handlers.WebSocketHandler(gw))

	return &Server{
		App:      app,
		Gateway:  gw,
		Registry: registry,
		Auth:     auth,
		Metrics:  met,
		Logger:   log,
		cfg:      cfg,
	}, nil
}

// Serve accepts connections on ln until Shutdown.
func (s *Server) Serve(ln net.Listener) error {
	return s.App.Listener(ln)
}

// Shutdown closes every websocket so rooms are left cleanly, then stops the
// HTTP server.
func (s *Server) Shutdown() error {
	s.Gateway.Clients.CloseAll()
	timeout := s.cfg.ShutdownTimeout
	if timeout <= 0 {
		return s.App.Shutdown()
	}
	return s.App.ShutdownWithTimeout(timeout)
}

// Run loads configuration, starts the server and blocks until SIGINT or
// SIGTERM.
func Run() error {
	envErr := utils.LoadEnv()
	cfg := LoadConfig()

	log, err := utils.NewLogger(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		return fmt.Errorf("build logger: %w", err)
	}
	defer log.Sync()

	if envErr != nil {
		log.Debug(".env file not loaded", zap.Error(envErr))
	}

	var store services.RoomStore = services.NewMemoryRoomStore()
	if cfg.DatabaseURL != "" {
		ctx := context.Background()
		pool, err := db.InitDB(ctx, cfg.DatabaseURL)
		if err != nil {
			return fmt.Errorf("connect to database: %w", err)
		}
		defer db.CloseDB(pool)
		if err := db.EnsureSchema(ctx, pool); err != nil {
			return err
		}
		store = services.NewPgRoomStore(pool)
		log.Info("connected to PostgreSQL")
	} else {
		log.Info("DATABASE_URL not set, room metadata kept in memory")
	}

	srv, err := New(cfg, log, store)
	if err != nil {
		return err
	}

	// Start Server
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.App.Listen(cfg.Addr())
	}()
	log.Info("server starting",
		zap.String("addr", cfg.Addr()),
		zap.Bool("require_auth", cfg.RequireAuth),
		zap.Bool("host_only_control", cfg.HostOnlyControl),
		zap.Int("chat_history_size", cfg.ChatHistorySize))

	// Graceful Shutdown
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return fmt.Errorf("listen: %w", err)
	case <-sigCh:
	}

	log.Info("gracefully shutting down")
	if err := srv.Shutdown(); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	log.Info("server shutdown complete")
	return nil
}
