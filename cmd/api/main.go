package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nimasrn/sms-forwarder/internal/auth"
	"github.com/nimasrn/sms-forwarder/internal/config"
	"github.com/nimasrn/sms-forwarder/internal/handlers"
	"github.com/nimasrn/sms-forwarder/internal/queue"
	"github.com/nimasrn/sms-forwarder/internal/repository"
	"github.com/nimasrn/sms-forwarder/internal/services"
	xhttp "github.com/nimasrn/sms-forwarder/pkg/http"
	"github.com/nimasrn/sms-forwarder/pkg/logger"
	"github.com/nimasrn/sms-forwarder/pkg/pg"
	"github.com/nimasrn/sms-forwarder/pkg/prom"
	"github.com/nimasrn/sms-forwarder/pkg/ratelimit"
	"github.com/nimasrn/sms-forwarder/pkg/redis"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	cfg, err := config.Load(config.EnvPathFromArgs(os.Args))
	if err != nil {
		logger.Must("development", "error").Fatal(err)
	}

	l := logger.Must(cfg.AppEnv, cfg.LogLevel)
	defer l.Sync()
	l.Info("starting api", "version", version, "commit", commit, "date", date, "env", cfg.AppEnv)

	ctx := context.Background()

	db, err := pg.CreateReadWrite(cfg.PostgresRead(), cfg.PostgresWrite())
	if err != nil {
		l.Fatal(err, "stage", "postgres")
	}
	defer db.Close()

	redisAdap, err := redis.NewRedisAdapter(ctx, "api", cfg.RedisUniversalKeyPrefix, cfg.RedisOptions("api"))
	if err != nil {
		l.Fatal(err, "stage", "redis")
	}
	defer redisAdap.Close()

	messageRepo := repository.NewMessageRepository(db)
	deviceRepo := repository.NewDeviceRepository(db)
	adminRepo := repository.NewAdminRepository(db)

	tokens := auth.NewTokenIssuer(cfg.JwtSecret, cfg.JwtExpiration)
	messageService := services.NewMessageService(messageRepo, deviceRepo, db, l)
	deviceService := services.NewDeviceService(deviceRepo, l)
	adminService := services.NewAdminService(adminRepo, tokens, cfg.BcryptSaltRounds, l)
	healthService := services.NewHealthService(db)

	if cfg.ForwardEnabled {
		q, err := queue.NewQueue(ctx, redisAdap, cfg.ForwardQueue(), l)
		if err != nil {
			l.Fatal(err, "stage", "forward queue")
		}
		messageService.WithPublisher(q)
		l.Info("forwarding enabled", "queue", cfg.QueueName)
	}

	if _, err := adminService.InitializeDefault(ctx, cfg.DefaultAdminNumber, cfg.DefaultAdminPasscode); err != nil {
		l.Fatal(err, "stage", "default admin")
	}

	resp := handlers.NewResponder(l, cfg.IsDevelopment())
	authMiddleware := handlers.NewAuthMiddleware(adminService, resp)
	limiter := ratelimit.New(redisAdap, cfg.ApiRateLimit, cfg.ApiRateLimitWindow)

	s := xhttp.CreateServer(l)
	s.Use(xhttp.RecoverMiddleware(l, resp.Panic))
	s.Use(xhttp.RequestIDMiddleware)
	s.Use(xhttp.RequestLoggerMiddleware(l))
	s.Use(xhttp.CORSMiddleware(xhttp.DefaultCORSConfig(cfg.CorsOrigin)))
	s.Use(xhttp.SecureHeadersMiddleware)
	s.Use(handlers.RateLimitMiddleware(limiter, resp, l))
	s.Use(xhttp.TimeoutMiddleware(cfg.HttpRequestTimeout, l, resp.Panic))
	s.Use(xhttp.CompressMiddleware(6))

	s.Router.NotFound = handlers.NotFound(resp)
	s.Router.MethodNotAllowed = handlers.NotFound(resp)

	handlers.RegisterHealthRoutes(s.Router, handlers.NewHealthHandler(healthService, l))

	g := s.Router.Group("/api")
	handlers.RegisterMessageRoutes(g, handlers.NewMessageHandler(messageService, resp), authMiddleware)
	handlers.RegisterDeviceRoutes(g, handlers.NewDeviceHandler(deviceService, resp), authMiddleware)
	handlers.RegisterAuthRoutes(g, handlers.NewAuthHandler(adminService, resp), authMiddleware)

	if cfg.MetricsAddr != "" {
		hostname, err := os.Hostname()
		if err != nil {
			hostname = "unknown"
		}
		if err := prom.Create(hostname, cfg.AppEnv, cfg.PromNamespace, l); err != nil {
			l.Fatal(err, "stage", "metrics")
		}
		go func() {
			if err := prom.ListenAndServe(cfg.MetricsAddr, "/metrics", l); err != nil {
				l.Error("metrics server stopped", "error", err)
			}
		}()
	}

	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)

	go func() {
		if err := s.ListenAndServe(cfg.HttpListenAddr); err != nil {
			l.Error("error in running http-server", "error", err)
			c <- syscall.SIGTERM
		}
	}()

	<-c
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = s.Shutdown(shutdownCtx)
}
