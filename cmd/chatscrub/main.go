// chatscrub serves the request-body scrub pipeline over HTTP: sanitize,
// tool-call repair, hazard analysis, and replay verification.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	log "github.com/sirupsen/logrus"

	"github.com/router-for-me/chatscrub/internal/api"
	"github.com/router-for-me/chatscrub/internal/archive"
	"github.com/router-for-me/chatscrub/internal/audit"
	"github.com/router-for-me/chatscrub/internal/config"
	"github.com/router-for-me/chatscrub/internal/logging"
	"github.com/router-for-me/chatscrub/internal/replay"
)

const shutdownGrace = 5 * time.Second

func main() {
	configPath := flag.String("config", "config.yaml", "path to the configuration file")
	flag.Parse()

	if err := run(*configPath); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	// Secrets may live in a local .env during development; absence is fine.
	_ = godotenv.Load()

	manager, err := config.NewManager(configPath)
	if err != nil {
		return err
	}
	cfg := manager.Current()
	logging.Setup(cfg.Logging, cfg.Debug)
	manager.OnChange(func(next *config.Config) {
		logging.Setup(next.Logging, next.Debug)
	})

	if cfg.Debug {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	deps := api.Deps{Config: manager.Current}
	if cfg.Replay.Enabled() {
		client, err := replay.NewClient(ctx, cfg.Replay)
		if err != nil {
			return err
		}
		deps.Replay = client
		log.WithField("endpoint", cfg.Replay.Endpoint).Info("replay backend configured")
	}
	if cfg.Audit.Enabled() {
		recorder, err := audit.Open(ctx, cfg.Audit.DSN)
		if err != nil {
			return err
		}
		defer func() {
			if err := recorder.Close(); err != nil {
				log.Errorf("close audit recorder: %v", err)
			}
		}()
		deps.Audit = recorder
		log.Info("audit trail configured")
	}
	if cfg.Archive.Enabled() {
		store, err := archive.New(cfg.Archive)
		if err != nil {
			return err
		}
		deps.Archive = store
		log.WithField("bucket", cfg.Archive.Bucket).Info("archive store configured")
	}

	go func() {
		if err := manager.Watch(ctx); err != nil {
			log.Errorf("config watcher stopped: %v", err)
		}
	}()

	server := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           api.New(deps),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.WithField("addr", server.Addr).Info("chatscrub listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}
