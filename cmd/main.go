package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	charm "github.com/charmbracelet/log"
	_ "github.com/joho/godotenv/autoload"
	"github.com/labstack/gommon/log"

	"gombonmongoli/pkg/config"
	"gombonmongoli/pkg/inference"
	"gombonmongoli/pkg/server"
	"gombonmongoli/pkg/store"
)

func main() {
	ctx, done := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)

	cfg, err := config.FromEnv(os.Getenv)
	if err != nil {
		log.Fatal(err)
	}
	level := setLogLevel(cfg.LogLevel)

	content, err := config.LoadContent(cfg.ConfigDir)
	if err != nil {
		log.Fatalf("Failed to load content tables: %v", err)
	}

	stores, err := store.Open(ctx, cfg)
	if err != nil {
		log.Fatalf("Failed to open %s store: %v", cfg.Store, err)
	}
	log.Infof("Using %s store", stores.Backend)

	inf, err := inference.FromConfig(ctx, cfg)
	switch {
	case errors.Is(err, inference.ErrNoBackend):
		log.Info("No model backend configured, model roasts fall back to instant roasts")
	case err != nil:
		log.Warnf("Failed to set up model backend, continuing without it: %v", err)
		inf = nil
	}

	srv := server.NewServer(ctx, cfg, content, stores, inf, nil)
	srv.Echo.Logger.SetLevel(level)
	go srv.RunSweeper(ctx, cfg.SweepInterval)

	finishedShutDown := make(chan struct{})
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error(err)
		}
		done()
		close(finishedShutDown)
	}()

	if err := srv.Start(cfg.Addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Error(err)
		done()
	}
	<-finishedShutDown
}

// setLogLevel applies LOG_LEVEL to the component logger and returns the matching echo level.
func setLogLevel(s string) log.Lvl {
	lvl, err := charm.ParseLevel(s)
	if err != nil {
		log.Warnf("Unknown LOG_LEVEL %q, using info", s)
		lvl = charm.InfoLevel
	}
	charm.SetLevel(lvl)

	switch lvl {
	case charm.DebugLevel:
		return log.DEBUG
	case charm.WarnLevel:
		return log.WARN
	case charm.ErrorLevel, charm.FatalLevel:
		return log.ERROR
	default:
		return log.INFO
	}
}
