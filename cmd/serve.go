package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/findwatch/findwatch/internal/config"
	"github.com/findwatch/findwatch/internal/crops"
	"github.com/findwatch/findwatch/internal/detect"
	"github.com/findwatch/findwatch/internal/logging"
	"github.com/findwatch/findwatch/internal/match"
	"github.com/findwatch/findwatch/internal/pipeline"
	"github.com/findwatch/findwatch/internal/web"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the ingest and matching server",
	Long: `Start the findwatch server.

The server exposes the readiness gate and frame ingest endpoint polled by
edge devices, and the case and notification API used by operators. Frames
are processed asynchronously by a worker pool.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg := config.Load()

	log, err := logging.New(cfg.Logging)
	if err != nil {
		return fmt.Errorf("failed to build logger: %w", err)
	}
	defer log.Sync()

	st, err := openStore(cfg)
	if err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}
	defer st.Close()

	cropStore, err := crops.NewStore(filepath.Join(cfg.Storage.DataDir, "crops"))
	if err != nil {
		return fmt.Errorf("failed to open crop store: %w", err)
	}

	// A server that cannot detect faces is useless; refuse to start
	// instead of failing every frame later.
	detector, err := detect.NewCascade(cfg.Detector.CascadePath, detect.Params{
		ScaleFactor:  cfg.Detector.ScaleFactor,
		MinNeighbors: cfg.Detector.MinNeighbors,
		MinSize:      cfg.Detector.MinSize,
	})
	if err != nil {
		return fmt.Errorf("failed to load face detector: %w", err)
	}
	defer detector.Close()

	engine := match.NewEngine(cfg.Matching.SimilarityThreshold, cfg.Matching.CanonicalSize)

	pipe, err := pipeline.New(pipeline.Config{
		QueueSize:         cfg.Pipeline.MaxInFlightFrames,
		Workers:           cfg.Pipeline.Workers,
		FrameTimeout:      cfg.Pipeline.FrameTimeout,
		MaxInFlightFrames: cfg.Pipeline.MaxInFlightFrames,
		MaxActiveCases:    cfg.Matching.MaxActiveCases,
		ReadyWhenIdle:     cfg.Pipeline.ReadyWhenIdle,
		MinCropSize:       cfg.Matching.MinCropSize,
		FramesDir:         filepath.Join(cfg.Storage.DataDir, "frames"),
	}, log, st, cropStore, detector, engine)
	if err != nil {
		return fmt.Errorf("failed to build pipeline: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pipe.Start(ctx)

	server := web.NewServer(cfg, log, st, cropStore, detector, pipe)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-sigChan
		log.Info("shutdown signal received")

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer shutdownCancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Error("error during shutdown", zap.Error(err))
		}
	}()

	log.Info("findwatch server starting",
		zap.String("host", cfg.Server.Host),
		zap.Int("port", cfg.Server.Port),
		zap.String("storage_driver", cfg.Storage.Driver),
		zap.Int("workers", cfg.Pipeline.Workers))

	if err := server.Start(); err != nil {
		return fmt.Errorf("starting server: %w", err)
	}

	// Drain queued frames before letting the deferred closes run.
	pipe.Stop()
	log.Info("pipeline drained, exiting")
	return nil
}
