// Command hubd runs the central relay+applicator hub as a standalone
// process: load config, pick a snapshot backend, start the scheduler, serve
// websocket connections, and drain every session on SIGINT/SIGTERM.
package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"collabfs/internal/config"
	"collabfs/internal/hub"
	"collabfs/internal/snapshot"
	"collabfs/internal/telemetry"
)

func main() {
	root := newRootCmd()
	if err := root.Execute(); err != nil {
		log.Fatalf("hubd: %v", err)
	}
}

func newRootCmd() *cobra.Command {
	var listenAddr string

	cmd := &cobra.Command{
		Use:   "hubd",
		Short: "Run the collaborative filesystem hub",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(listenAddr)
		},
	}
	cmd.Flags().StringVar(&listenAddr, "listen", "", "override LISTEN_ADDR from config")
	return cmd
}

func run(listenAddrOverride string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if listenAddrOverride != "" {
		cfg.ListenAddr = listenAddrOverride
	}

	jaegerShutdown, err := telemetry.InitJaeger("collabfs-hub", cfg.JaegerEndpoint)
	if err != nil {
		log.Printf("hubd: jaeger unavailable, continuing without tracing: %v", err)
		jaegerShutdown = func(context.Context) error { return nil }
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := jaegerShutdown(ctx); err != nil {
			log.Printf("hubd: jaeger shutdown: %v", err)
		}
	}()

	store, err := openSnapshotStore(cfg)
	if err != nil {
		return fmt.Errorf("open snapshot store: %w", err)
	}
	defer store.Close()

	h := hub.New(store, hub.Config{
		SnapshotInterval:          cfg.SnapshotInterval,
		HeartbeatInterval:         cfg.HeartbeatInterval,
		HeartbeatTimeout:          cfg.HeartbeatTimeout,
		BackpressureHighWaterMark: cfg.BackpressureHighWaterMark,
	})
	h.StartScheduler()

	server := &http.Server{
		Addr:         cfg.ListenAddr,
		Handler:      h.Router(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Printf("hubd: listening on %s", cfg.ListenAddr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("hubd: server error: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("hubd: shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Printf("hubd: http shutdown: %v", err)
	}
	if err := h.Shutdown(ctx); err != nil {
		log.Printf("hubd: final snapshot pass: %v", err)
	}

	log.Println("hubd: shutdown complete")
	return nil
}

func openSnapshotStore(cfg *config.Config) (snapshot.Store, error) {
	switch cfg.SnapshotBackend {
	case config.SnapshotBackendBolt:
		return snapshot.NewBoltStore(cfg.SnapshotDir + "/snapshots.db")
	case config.SnapshotBackendPostgres:
		return snapshot.NewPostgresStore(cfg.SnapshotDSN)
	case config.SnapshotBackendMongo:
		return snapshot.NewMongoStore(context.Background(), cfg.SnapshotDSN)
	case config.SnapshotBackendFile, "":
		return snapshot.NewFileStore(cfg.SnapshotDir)
	default:
		return nil, fmt.Errorf("unknown snapshot backend %q", cfg.SnapshotBackend)
	}
}
