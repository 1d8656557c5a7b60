package server

import (
	"backend-fleettrack/internal/auth"
	"backend-fleettrack/internal/broadcast"
	"backend-fleettrack/internal/config"
	"backend-fleettrack/internal/fleet"
	"backend-fleettrack/internal/stream"
	"backend-fleettrack/internal/tracking"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

type Server struct {
	App      *fiber.App
	Cfg      config.Config
	DB       *pgxpool.Pool
	Redis    *redis.Client
	Logger   *zap.Logger
	Stream   *stream.Hub
	Fleet    *fleet.CachedLookup
	Tracking *tracking.Manager
	Sweeper  *tracking.Sweeper
}

func NewServer(cfg config.Config, db *pgxpool.Pool, redisClient *redis.Client, log *zap.Logger) *Server {
	if log == nil {
		log = zap.NewNop()
	}

	app := fiber.New()
	app.Use(recover.New())
	app.Use(logger.New())

	hub := stream.NewHub(redisClient, log.Named("stream"))
	profiles := fleet.NewCachedLookup(fleet.NewService(db), redisClient, cfg.ProfileCacheTTL, log.Named("fleet"))
	broadcaster := broadcast.New(hub, profiles, log.Named("broadcast"))
	manager := tracking.NewManager(tracking.NewPgStore(db), broadcaster, log.Named("tracking"))

	s := &Server{
		App:      app,
		Cfg:      cfg,
		DB:       db,
		Redis:    redisClient,
		Logger:   log,
		Stream:   hub,
		Fleet:    profiles,
		Tracking: manager,
		Sweeper:  tracking.NewSweeper(manager, cfg.SweepInterval, cfg.SessionTimeout, log.Named("sweeper")),
	}

	registerRoutes(s)
	return s
}

func registerRoutes(s *Server) {
	s.App.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status":          "ok",
			"connections":     s.Stream.Connections(),
			"active_sessions": len(s.Tracking.ListActive()),
		})
	})

	authSvc := auth.NewService(s.Cfg.JWTSecret)
	jwtMiddleware := auth.JWTMiddleware(authSvc)

	auth.RegisterRoutes(s.App.Group("/auth"), authSvc)
	tracking.RegisterRoutes(s.App.Group("/tracking"), s.Tracking, jwtMiddleware)
	fleet.RegisterRoutes(s.App.Group("/fleet", jwtMiddleware), s.Fleet)
	stream.RegisterRoutes(s.App.Group("/stream"), s.Stream, jwtMiddleware)
}
