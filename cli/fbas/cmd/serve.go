package cmd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/fbas-tools/analyzer/internal/analysis"
	"github.com/fbas-tools/analyzer/internal/cache"
	"github.com/fbas-tools/analyzer/internal/logger"
	"github.com/fbas-tools/analyzer/internal/metrics"
	"github.com/fbas-tools/analyzer/internal/pipeline"
	"github.com/fbas-tools/analyzer/internal/rpc"
	"github.com/fbas-tools/analyzer/keyvaluedb/boltdb"
)

const (
	addressCmdName        = "address"
	dbFileCmdName         = "db"
	maxBodySizeCmdName    = "max-body-size"
	dedupeInflightCmdName = "dedupe-inflight"
	metricsCmdName        = "metrics"

	defaultServerAddr = "localhost:9655"
	// BoltCacheFileName is the cache database file in $FBAS_HOME
	BoltCacheFileName = "cache.db"
	// the value of --db disabling the persistent cache
	noDbFile = "none"
)

var log = logger.CreateForPackage()

type serveConfig struct {
	Base           *baseConfiguration
	Address        string
	DbFile         string
	MaxBodySize    int64
	NodeLimit      int
	DedupeInflight bool
	Metrics        bool
}

// GetDbFile returns the cache database path, empty when the persistent cache is disabled.
func (c *serveConfig) GetDbFile() (string, error) {
	if c.DbFile == noDbFile {
		return "", nil
	}
	if c.DbFile != "" {
		return c.DbFile, nil
	}
	if err := os.MkdirAll(c.Base.HomeDir, 0700); err != nil { // -rwx------
		return "", err
	}
	return filepath.Join(c.Base.HomeDir, BoltCacheFileName), nil
}

func newServeCmd(baseConfig *baseConfiguration) *cobra.Command {
	config := &serveConfig{Base: baseConfig}
	var cmd = &cobra.Command{
		Use:   "serve",
		Short: "starts the analysis REST server",
		Long:  "starts the analysis REST server, results are cached per FBAS and optionally persisted to a bolt database",
		RunE: func(cmd *cobra.Command, args []string) error {
			return execServeCmd(cmd.Context(), config)
		},
	}
	cmd.Flags().StringVarP(&config.Address, addressCmdName, "s", defaultServerAddr, "server address")
	cmd.Flags().StringVar(&config.DbFile, dbFileCmdName, "", fmt.Sprintf("path to the cache database file, %q keeps the cache in memory only (default: $FBAS_HOME/%s)", noDbFile, BoltCacheFileName))
	cmd.Flags().Int64Var(&config.MaxBodySize, maxBodySizeCmdName, rpc.DefaultMaxBodySize, "maximum size of a request body in bytes, 0 disables the limit")
	cmd.Flags().IntVar(&config.NodeLimit, nodeLimitCmdName, analysis.DefaultNodeLimit, "maximum number of nodes the analysis accepts")
	cmd.Flags().BoolVar(&config.DedupeInflight, dedupeInflightCmdName, false, "concurrent requests for the same uncached FBAS share one analysis")
	cmd.Flags().BoolVar(&config.Metrics, metricsCmdName, false, "serve metrics in prometheus format on /metrics")
	return cmd
}

func execServeCmd(ctx context.Context, config *serveConfig) error {
	// collectors created before enabling stay no-op
	if config.Metrics {
		metrics.Enable()
	}

	var cacheOpts []cache.Option
	dbFile, err := config.GetDbFile()
	if err != nil {
		return fmt.Errorf("creating home directory: %w", err)
	}
	if dbFile != "" {
		db, err := boltdb.New(dbFile)
		if err != nil {
			return fmt.Errorf("opening cache database: %w", err)
		}
		defer func() {
			if err := db.Close(); err != nil {
				log.Warning("closing cache database: %v", err)
			}
		}()
		log.Info("persisting analysis results to %s", dbFile)
		cacheOpts = append(cacheOpts, cache.WithStore(db))
	}

	engine, err := analysis.NewReferenceEngine(analysis.WithNodeLimit(config.NodeLimit))
	if err != nil {
		return err
	}
	var pipelineOpts []pipeline.Option
	if config.DedupeInflight {
		pipelineOpts = append(pipelineOpts, pipeline.WithInflightDedup())
	}
	analyzer, err := pipeline.New(engine, cache.New(cacheOpts...), pipelineOpts...)
	if err != nil {
		return err
	}

	serverOpts := []rpc.Option{rpc.WithMaxBodySize(config.MaxBodySize)}
	if config.Metrics {
		serverOpts = append(serverOpts, rpc.WithMetrics())
	}
	server, err := rpc.NewRESTServer(analyzer, config.Address, serverOpts...)
	if err != nil {
		return err
	}
	return server.Run(ctx)
}
