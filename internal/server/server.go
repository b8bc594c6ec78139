package server

import (
	"log/slog"
	"time"

	"backend-locshare/internal/auth"
	"backend-locshare/internal/config"
	"backend-locshare/internal/db"
	"backend-locshare/internal/events"
	"backend-locshare/internal/location"
	"backend-locshare/internal/presence"
	"backend-locshare/internal/profile"
	"backend-locshare/internal/storage"
	"backend-locshare/internal/stream"
	"backend-locshare/internal/tracking"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/redis/go-redis/v9"
)

type Server struct {
	App    *fiber.App
	Cfg    config.Config
	DB     db.Querier
	Redis  *redis.Client
	Stream *stream.Hub
	Events events.Publisher

	Auth     *auth.Service
	Tracking *tracking.Service
	Profiles *profile.Service
	Storage  *storage.Service
}

// NewServer wires every service onto one fiber app. q may be nil, in
// which case only routes that never touch the database work.
func NewServer(cfg config.Config, q db.Querier, redisClient *redis.Client, pub events.Publisher) *Server {
	app := fiber.New(fiber.Config{BodyLimit: bodyLimit(cfg.MaxPhotoBytes)})
	app.Use(recover.New())
	app.Use(logger.New())

	if pub == nil {
		pub = events.Nop{}
	}

	hub := stream.NewHub(redisClient)
	s := &Server{
		App:    app,
		Cfg:    cfg,
		DB:     q,
		Redis:  redisClient,
		Stream: hub,
		Events: pub,
	}

	presenceStore := presence.NewStore(q, hub, pub)
	profiles := profile.NewRepository(q, hub)

	s.Storage = storage.NewService(q, cfg.PublicBaseURL)
	s.Auth = auth.NewService(cfg.JWTSecret, q, profiles, cfg.RecentLoginWindow)
	s.Tracking = tracking.NewService(presenceStore, location.NewProvider(hub), hub, tracking.Options{
		Filter: tracking.PathFilter{
			MinInterval:  cfg.PathMinInterval,
			MinDistanceM: cfg.PathMinDistanceM,
		},
		OnlineUsersLimit: cfg.OnlineUsersLimit,
		Logger:           slog.Default(),
		IdleTimeout:      cfg.TrackerIdleTimeout,
	})
	s.Profiles = profile.NewService(profiles, s.Auth, s.Storage, s.Auth, hub)

	s.Auth.OnSignOut(func(uid string) {
		s.Tracking.CloseSession(uid)
		s.Profiles.CloseSession(uid)
	})

	registerRoutes(s)
	return s
}

func bodyLimit(maxPhotoBytes int) int {
	// Room for the multipart envelope around the photo.
	limit := maxPhotoBytes + 64<<10
	if limit < fiber.DefaultBodyLimit {
		return fiber.DefaultBodyLimit
	}
	return limit
}

func registerRoutes(s *Server) {
	s.App.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok", "time": time.Now().UTC()})
	})

	jwtMiddleware := auth.JWTMiddleware(s.Cfg.JWTSecret)

	auth.RegisterRoutes(s.App.Group("/auth"), s.Auth, jwtMiddleware)
	tracking.RegisterRoutes(s.App.Group("/tracking"), s.Tracking, jwtMiddleware)
	profile.RegisterRoutes(s.App.Group("/profile"), s.Profiles, jwtMiddleware, int64(s.Cfg.MaxPhotoBytes))
	storage.RegisterRoutes(s.App.Group("/storage"), s.Storage)
	stream.RegisterRoutes(s.App.Group("/stream"), s.Stream, jwtMiddleware)
}

// Close stops every per-user session and the stream hub. Pending profile
// writes from registration are awaited first.
func (s *Server) Close() {
	s.Auth.Wait()
	s.Tracking.Close()
	s.Profiles.Close()
	if err := s.Stream.Close(); err != nil {
		slog.Default().Warn("stream hub close failed", "error", err)
	}
}
