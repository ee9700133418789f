package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/marmos91/dittonn/internal/logger"
	"github.com/marmos91/dittonn/pkg/api"
	"github.com/marmos91/dittonn/pkg/config"
	"github.com/marmos91/dittonn/pkg/metadata/archive"
	"github.com/marmos91/dittonn/pkg/metadata/namenode"
	"github.com/marmos91/dittonn/pkg/metrics"

	// Import prometheus metrics to register init() functions
	_ "github.com/marmos91/dittonn/pkg/metrics/prometheus"
)

var (
	namenodeFormat   bool
	namenodeImport   bool
	namenodeSafeMode bool
)

var namenodeCmd = &cobra.Command{
	Use:   "namenode",
	Short: "Run the primary",
	Long: `Run the primary: load the newest image, replay the edit log and serve
the checkpoint and admin API until interrupted.

Examples:
  # Start with the default config
  dittonn namenode

  # Format empty directories on first start
  dittonn namenode --format

  # Start from the secondary's last checkpoint
  dittonn namenode --import

  # Start with environment variable overrides
  DITTONN_LOGGING_LEVEL=DEBUG dittonn namenode`,
	RunE: runNamenode,
}

func init() {
	namenodeCmd.Flags().BoolVar(&namenodeFormat, "format", false, "Format the storage directories if none is formatted yet")
	namenodeCmd.Flags().BoolVar(&namenodeImport, "import", false, "Import the checkpoint found in secondary.checkpoint_dirs")
	namenodeCmd.Flags().BoolVar(&namenodeSafeMode, "safe-mode", false, "Start with mutations refused")
}

func runNamenode(cmd *cobra.Command, args []string) error {
	cfg, err := config.MustLoad(GetConfigFile())
	if err != nil {
		return err
	}
	if err := InitLogger(cfg); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownObservability, err := initObservability(ctx, cfg, "namenode")
	if err != nil {
		return err
	}
	defer shutdownObservability()

	logger.Info("Configuration loaded", "source", getConfigSource(GetConfigFile()))
	watchConfig()

	if cfg.Metrics.Enabled {
		metrics.InitRegistry()
		logger.Info("Metrics enabled", "path", "/metrics", "port", cfg.Namenode.API.Port)
	}

	nnCfg := namenode.Config{
		ImageDirs:           cfg.Namenode.ImageDirs,
		EditsDirs:           cfg.Namenode.EditsDirs,
		SafeMode:            cfg.Namenode.SafeMode || namenodeSafeMode,
		Import:              namenodeImport,
		CheckpointDirs:      cfg.Secondary.CheckpointDirs,
		CheckpointEditsDirs: cfg.Secondary.CheckpointEditsDirs,
		Metrics:             metrics.NewNamenodeMetrics(),
	}

	if cfg.Archive.Enabled {
		archiver, err := newArchiver(ctx, cfg.Archive)
		if err != nil {
			return err
		}
		defer func() { _ = archiver.Close() }()
		nnCfg.Archiver = archiver
	}

	if namenodeFormat && !namenode.IsFormatted(append(append([]string{}, nnCfg.ImageDirs...), nnCfg.EditsDirs...)) {
		info, err := namenode.Format(nnCfg.ImageDirs, nnCfg.EditsDirs, namenode.FormatOptions{ClusterID: cfg.Namenode.ClusterID})
		if err != nil {
			return fmt.Errorf("format failed: %w", err)
		}
		logger.Info("Storage directories formatted", "namespace_id", info.NamespaceID, "cluster_id", info.ClusterID)
	}

	nn, err := namenode.Open(ctx, nnCfg)
	if err != nil {
		return fmt.Errorf("failed to start namenode: %w", err)
	}
	defer func() {
		if err := nn.Close(); err != nil {
			logger.Error("Namenode close error", logger.KeyError, err)
		}
	}()

	st := nn.Status()
	logger.Info("Namenode started",
		"namespace_id", st.NamespaceID,
		"image_txid", st.ImageTxID,
		"last_txid", st.LastTxID,
		"entries", st.Entries,
		"safe_mode", st.SafeMode)

	// Losing every directory of a role stops the server.
	serveCtx, stop := context.WithCancel(ctx)
	defer stop()
	go func() {
		select {
		case <-nn.Failed():
			stop()
		case <-serveCtx.Done():
		}
	}()

	server := api.NewServer(cfg.Namenode.API, nn)
	logger.Info("Namenode is running. Press Ctrl+C to stop.")
	if err := server.Start(serveCtx); err != nil {
		return err
	}
	if err := nn.Err(); err != nil {
		return fmt.Errorf("namenode stopped: %w", err)
	}
	logger.Info("Namenode stopped gracefully")
	return nil
}

func newArchiver(ctx context.Context, cfg config.ArchiveConfig) (*archive.Archiver, error) {
	archiver, err := archive.NewFromConfig(ctx, archive.Config{
		Bucket:          cfg.Bucket,
		Region:          cfg.Region,
		Endpoint:        cfg.Endpoint,
		KeyPrefix:       cfg.KeyPrefix,
		AccessKeyID:     cfg.AccessKeyID,
		SecretAccessKey: cfg.SecretAccessKey,
		ForcePathStyle:  cfg.ForcePathStyle,
		Retain:          cfg.Retain,
		Metrics:         metrics.NewArchiveMetrics(),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create image archive: %w", err)
	}
	if err := archiver.HealthCheck(ctx); err != nil {
		// Archiving is best effort.
		logger.Warn("Image archive unreachable", "bucket", cfg.Bucket, logger.KeyError, err)
	} else {
		logger.Info("Image archive enabled", "bucket", cfg.Bucket, "prefix", cfg.KeyPrefix, "retain", cfg.Retain)
	}
	return archiver, nil
}
