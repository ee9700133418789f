package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/marmos91/dittonn/internal/logger"
	"github.com/marmos91/dittonn/pkg/apiclient"
	"github.com/marmos91/dittonn/pkg/config"
	"github.com/marmos91/dittonn/pkg/metadata/checkpoint"
	merrs "github.com/marmos91/dittonn/pkg/metadata/errors"
	"github.com/marmos91/dittonn/pkg/metadata/history"
	"github.com/marmos91/dittonn/pkg/metrics"

	// Import prometheus metrics to register init() functions
	_ "github.com/marmos91/dittonn/pkg/metrics/prometheus"
)

var (
	secondaryOnce    bool
	secondaryPrimary string
)

var secondaryCmd = &cobra.Command{
	Use:   "secondary",
	Short: "Run the checkpointing secondary",
	Long: `Run the secondary: every period, ask the primary to roll its edit log,
merge the finalized edits into the image and upload the result.

Examples:
  # Checkpoint every secondary.period
  dittonn secondary

  # Run a single checkpoint and exit
  dittonn secondary --once

  # Checkpoint a specific primary
  dittonn secondary --primary http://nn1:9870`,
	RunE: runSecondary,
}

func init() {
	secondaryCmd.Flags().BoolVar(&secondaryOnce, "once", false, "Run one checkpoint and exit")
	secondaryCmd.Flags().StringVar(&secondaryPrimary, "primary", "", "Primary API address (default: secondary.primary_address)")
}

func runSecondary(cmd *cobra.Command, args []string) error {
	cfg, err := config.MustLoad(GetConfigFile())
	if err != nil {
		return err
	}
	if err := InitLogger(cfg); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownObservability, err := initObservability(ctx, cfg, "secondary")
	if err != nil {
		return err
	}
	defer shutdownObservability()

	logger.Info("Configuration loaded", "source", getConfigSource(GetConfigFile()))
	watchConfig()

	if cfg.Metrics.Enabled {
		metrics.InitRegistry()
		go func() {
			if err := metrics.NewServer(cfg.Metrics.Port).Start(ctx, cfg.ShutdownTimeout); err != nil {
				logger.Error("Metrics server error", logger.KeyError, err)
			}
		}()
	}

	journal, err := history.Open(cfg.Secondary.History.Path, history.Options{
		Retain:  cfg.Secondary.History.Retain,
		TTL:     cfg.Secondary.History.TTL,
		Metrics: metrics.NewHistoryMetrics(),
	})
	if err != nil {
		return fmt.Errorf("failed to open checkpoint history: %w", err)
	}
	defer func() { _ = journal.Close() }()

	address := secondaryPrimary
	if address == "" {
		address = cfg.Secondary.PrimaryAddress
	}
	primary := apiclient.New(address).WithTimeout(cfg.Secondary.TransferTimeout)

	sn, err := checkpoint.NewSecondary(checkpoint.Config{
		ImageDirs:    cfg.Secondary.CheckpointDirs,
		EditsDirs:    cfg.Secondary.CheckpointEditsDirs,
		Primary:      primary,
		Journal:      journal,
		Metrics:      metrics.NewCheckpointMetrics(),
		ImageMetrics: metrics.NewImageMetrics("secondary"),
	})
	if err != nil {
		return fmt.Errorf("failed to start secondary: %w", err)
	}
	defer func() { _ = sn.Close() }()

	logger.Info("Secondary started", "primary", address, "period", cfg.Secondary.Period)

	if secondaryOnce {
		transferred, err := sn.DoCheckpoint(ctx)
		if err != nil {
			return fmt.Errorf("checkpoint failed: %w", err)
		}
		if transferred {
			fmt.Println("Checkpoint uploaded and adopted")
		} else {
			fmt.Println("Nothing to upload: the namespace has not changed since the last checkpoint")
		}
		return nil
	}

	if err := sn.Run(ctx, cfg.Secondary.Period); err != nil {
		if merrs.IsFatal(err) {
			logger.Error("Secondary stopped on a fatal storage error", logger.KeyError, err)
		}
		return err
	}
	logger.Info("Secondary stopped")
	return nil
}
