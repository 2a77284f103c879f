package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nimasrn/sms-forwarder/internal/config"
	gateway "github.com/nimasrn/sms-forwarder/internal/gateways"
	"github.com/nimasrn/sms-forwarder/internal/processor"
	"github.com/nimasrn/sms-forwarder/internal/repository"
	"github.com/nimasrn/sms-forwarder/internal/services"
	"github.com/nimasrn/sms-forwarder/pkg/logger"
	"github.com/nimasrn/sms-forwarder/pkg/pg"
	"github.com/nimasrn/sms-forwarder/pkg/prom"
	"github.com/nimasrn/sms-forwarder/pkg/redis"
	"github.com/pkg/errors"
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
	l.Info("starting forwarder", "version", version, "commit", commit, "date", date, "env", cfg.AppEnv)

	if len(cfg.RelayURLs()) == 0 {
		l.Fatal(errors.New("RELAY_PRIMARY_URL is required"))
	}

	ctx := context.Background()

	db, err := pg.CreateReadWrite(cfg.PostgresRead(), cfg.PostgresWrite())
	if err != nil {
		l.Fatal(err, "stage", "postgres")
	}
	defer db.Close()

	redisAdap, err := redis.NewRedisAdapter(ctx, "forwarder", cfg.RedisUniversalKeyPrefix, cfg.RedisOptions("forwarder"))
	if err != nil {
		l.Fatal(err, "stage", "redis")
	}
	defer redisAdap.Close()

	relayCfg := gateway.Config{
		AuthToken:               cfg.RelayAuthToken,
		Timeout:                 cfg.RelayTimeout,
		MaxConns:                cfg.ForwardWorkers * 2,
		HealthCheckInterval:     30 * time.Second,
		CircuitBreakerThreshold: 5,
		CircuitBreakerTimeout:   time.Minute,
	}
	for i, u := range cfg.RelayURLs() {
		ec := gateway.EndpointConfig{Name: "primary", URL: u, HealthURL: gateway.HealthURLFor(u), Weight: 100}
		if i > 0 {
			ec.Name, ec.Weight = "secondary", 50
		}
		relayCfg.Endpoints = append(relayCfg.Endpoints, ec)
	}
	relay, err := gateway.NewClient(relayCfg, l)
	if err != nil {
		l.Fatal(err, "stage", "relay client")
	}
	defer relay.Close()

	messageRepo := repository.NewMessageRepository(db)
	deviceRepo := repository.NewDeviceRepository(db)
	messageService := services.NewMessageService(messageRepo, deviceRepo, db, l)
	deviceService := services.NewDeviceService(deviceRepo, l)

	locks := processor.NewIdempotencyService(redisAdap, processor.DefaultIdempotencyConfig(), l)

	service := processor.NewProcessorService(redisAdap, processor.ServiceConfig{
		Queue:             cfg.ForwardQueue(),
		Consumers:         cfg.QueueConsumers,
		Workers:           cfg.ForwardWorkers,
		ProcessingTimeout: cfg.RelayTimeout * 2,
	}, l)
	service.RegisterProcessor(processor.NewForwardProcessor(messageService, deviceService, relay, locks, l))

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

	if err := service.Start(); err != nil {
		l.Fatal(err, "stage", "processor")
	}

	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)
	<-c
	service.Stop()
}
