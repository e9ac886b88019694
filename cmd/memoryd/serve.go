package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/memoryd/memoryd/internal/config"
	"github.com/memoryd/memoryd/internal/daemon"
	"github.com/memoryd/memoryd/internal/health"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the memory engine daemon: scheduler plus a localhost health/status surface",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context())
		},
	}
}

func runServe(ctx context.Context) error {
	log := newDaemonLogger()

	e, err := openEngine(ctx, log)
	if err != nil {
		return err
	}
	defer e.close()

	if err := e.registerJobs(); err != nil {
		return fmt.Errorf("register scheduled jobs: %w", err)
	}
	e.scheduler.Start()

	addr := config.GetString("http_addr")
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", e.handleHealth)
	mux.HandleFunc("GET /status", e.handleStatus)
	mux.HandleFunc("GET /briefing", e.handleBriefing)
	mux.HandleFunc("POST /flush", e.handleFlush)

	server := &http.Server{Addr: addr, Handler: mux}

	registry, regErr := daemon.NewRegistry()
	var registryEntry daemon.RegistryEntry
	if regErr == nil {
		cwd, _ := os.Getwd()
		registryEntry = daemon.RegistryEntry{
			WorkspacePath: cwd,
			DatabasePath:  e.store.Path(),
			HTTPPort:      httpPort(addr),
			PID:           os.Getpid(),
			StartedAt:     time.Now(),
		}
		if err := registry.Register(registryEntry); err != nil {
			log.Warn("failed to register daemon", "error", err)
		}
	} else {
		log.Warn("daemon registry unavailable", "error", regErr)
	}

	serveErrCh := make(chan error, 1)
	go func() {
		log.Info("memoryd listening", "addr", addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serveErrCh <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case <-sigCh:
		log.Info("shutdown signal received")
	case err := <-serveErrCh:
		log.Error("http server failed", "error", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Warn("http server shutdown error", "error", err)
	}

	if regErr == nil {
		if err := registry.Unregister(registryEntry.WorkspacePath, registryEntry.PID); err != nil {
			log.Warn("failed to unregister daemon", "error", err)
		}
	}

	e.scheduler.Stop()
	return health.Shutdown(shutdownCtx, e.store, nil)
}

func (e *engine) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := e.healthSnapshot(r.Context())
	if !status.Components["database"].OK {
		w.WriteHeader(http.StatusServiceUnavailable)
		fmt.Fprint(w, "unhealthy")
		return
	}
	fmt.Fprint(w, "healthy")
}

func (e *engine) handleStatus(w http.ResponseWriter, r *http.Request) {
	status := e.healthSnapshot(r.Context())
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(status)
}

func (e *engine) handleBriefing(w http.ResponseWriter, r *http.Request) {
	briefing, err := e.recall.BuildSessionBriefing(r.Context())
	if err != nil {
		w.WriteHeader(http.StatusInternalServerError)
		fmt.Fprintf(w, "briefing failed: %v", err)
		return
	}
	w.Header().Set("Content-Type", "text/markdown; charset=utf-8")
	fmt.Fprint(w, briefing)
}

func (e *engine) handleFlush(w http.ResponseWriter, r *http.Request) {
	if err := e.store.Flush(r.Context()); err != nil {
		w.WriteHeader(http.StatusInternalServerError)
		fmt.Fprintf(w, "flush failed: %v", err)
		return
	}
	w.WriteHeader(http.StatusOK)
	fmt.Fprint(w, "flushed")
}

func (e *engine) healthSnapshot(ctx context.Context) health.Report {
	report, err := e.health.BuildStatusReport(ctx)
	if err != nil {
		e.log.Warn("status report build failed", "error", err)
	}
	return report
}

// httpPort extracts the numeric port from a "localhost:port" or ":port" address, for the
// registry entry's HTTPPort field; any other form (another host, a unix socket path)
// yields 0.
func httpPort(addr string) int {
	var port int
	if _, err := fmt.Sscanf(addr, "localhost:%d", &port); err == nil {
		return port
	}
	if _, err := fmt.Sscanf(addr, ":%d", &port); err == nil {
		return port
	}
	return 0
}
