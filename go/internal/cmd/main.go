package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/ryanbliss/live-share-react-media-template/go/internal/gateway"
	"github.com/ryanbliss/live-share-react-media-template/go/internal/mediaclock"
	"github.com/ryanbliss/live-share-react-media-template/go/internal/notify"
	"github.com/ryanbliss/live-share-react-media-template/go/internal/presence"
	"github.com/ryanbliss/live-share-react-media-template/go/internal/session"
	"github.com/ryanbliss/live-share-react-media-template/go/internal/transport"
)

func main() {
	// Load .env file if it exists
	if err := godotenv.Load(); err != nil {
		log.Warn().Err(err).Msg("could not load .env file")
	}

	// Setup logging
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	config, err := resolveConfig()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to resolve configuration")
	}

	log.Info().
		Str("session_id", config.Session.ID).
		Str("user_id", config.User.ID).
		Str("nats_url", config.NATS.URL).
		Bool("share_initiator", config.User.ShareInitiator).
		Msg("starting media session agent")

	// Context for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Connect the replication substrate. "memory" runs a standalone
	// single-process session, useful for demos without a NATS server.
	var tr transport.Transport
	if config.NATS.URL == "memory" {
		client := transport.NewHub(clockwork.NewRealClock()).Connect()
		client.Start()
		tr = client
	} else {
		natsCfg := transport.DefaultNATSConfig(config.Session.ID)
		natsCfg.URL = config.NATS.URL
		nt := transport.NewNATSTransport(natsCfg, mediaclock.NewSharedClock(clockwork.NewRealClock()))
		if err := nt.Start(ctx); err != nil {
			log.Fatal().Err(err).Msg("failed to connect session transport")
		}
		defer nt.Stop()
		tr = nt
	}

	// Gateway for WebSocket clients
	gw := gateway.NewService(gateway.DefaultConfig())
	go func() {
		if err := gw.Start(ctx); err != nil {
			log.Error().Err(err).Msg("session gateway failed")
		}
	}()

	// Assemble the local participant
	player := newHeadlessPlayer(0)
	sinks := notify.MultiSink{notify.LogSink{}, gw.Sink(config.Session.ID)}
	sess := session.New(tr, player, sinks, clockwork.NewRealClock(), session.Config{
		UserID:                config.User.ID,
		DisplayName:           config.User.DisplayName,
		Roles:                 toRoles(config.User.Roles),
		AllowedRoles:          toRoles(config.User.AllowedRoles),
		ShareInitiator:        config.User.ShareInitiator,
		DriftToleranceSeconds: config.Session.DriftToleranceSeconds,
		HeartbeatInterval:     config.heartbeatInterval(),
		OfflineTimeout:        config.offlineTimeout(),
	})
	if err := sess.Start(ctx); err != nil {
		log.Fatal().Err(err).Msg("failed to start session")
	}
	gw.AttachSession(config.Session.ID, sess)

	// HTTP server for WebSocket clients and health checks
	server := setupServer(gw)
	go func() {
		log.Info().Str("addr", server.Addr).Msg("gateway server starting")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("gateway server failed")
		}
	}()

	// Wait for interrupt signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	sig := <-sigChan

	log.Info().Str("signal", sig.String()).Msg("received shutdown signal")

	// Graceful shutdown
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("gateway server shutdown failed")
	}

	gw.DetachSession(config.Session.ID)
	sess.Stop(shutdownCtx)
	cancel()

	log.Info().Msg("media session agent shutdown complete")
}

func toRoles(names []string) []presence.Role {
	roles := make([]presence.Role, 0, len(names))
	for _, name := range names {
		roles = append(roles, presence.Role(name))
	}
	return roles
}
