// Command relaysink is a development relay endpoint: point RELAY_PRIMARY_URL
// at http://localhost:4000/relay to watch forwarded SMS arrive.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	env "github.com/Netflix/go-env"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	var cfg SinkConfig
	if _, err := env.UnmarshalFromEnviron(&cfg); err != nil {
		log.Fatal().Err(err).Msg("invalid configuration")
	}

	log.Info().
		Str("port", cfg.Port).
		Float64("failure_rate", cfg.FailureRate).
		Dur("min_delay", cfg.MinDelay).
		Dur("max_delay", cfg.MaxDelay).
		Bool("auth", cfg.AuthToken != "").
		Msg("starting relay sink")

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      SetupRouter(NewSink(cfg, log.Logger)),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server failed")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("forced shutdown")
	}
}
