package main

import (
	"context"
	"fmt"
	"log"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/zc-zkdeployment/agent/internal/syncdriver"
	"github.com/zc-zkdeployment/agent/internal/vcs"
	"github.com/zc-zkdeployment/agent/internal/zkcoord"
)

const sessionTimeout = 10 * time.Second

func main() {
	var (
		force     bool
		verbose   bool
		zkAddr    string
		stateDir  string
		sourceURL string
	)

	cmd := &cobra.Command{
		Use:  "sync --source <scheme>:<rest>",
		Args: cobra.ExactArgs(0),
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd.Context(), sourceURL, stateDir, zkAddr, verbose, force)
		},
	}
	cmd.Flags().StringVar(&sourceURL, "source", "", "canonical <scheme>:<rest> VCS URL to import from")
	cmd.Flags().BoolVar(&force, "force", false, "override both §4.6 refusal conditions")
	cmd.Flags().BoolVar(&verbose, "verbose", false, "enable debug-level logging")
	cmd.Flags().StringVar(&zkAddr, "zookeeper", "127.0.0.1:2181", "comma-separated ZooKeeper ensemble address")
	cmd.Flags().StringVar(&stateDir, "state-dir", "/var/run/zkdeployment-sync", "directory for the driver's host lock and tombstone files")
	cmd.MarkFlagRequired("source")

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()
	cmd.SetContext(ctx)

	if err := cmd.Execute(); err != nil {
		log.Fatal(err)
	}
}

func run(ctx context.Context, sourceURL, stateDir, zkAddr string, verbose, force bool) error {
	logger, err := newLogger(verbose)
	if err != nil {
		return err
	}
	defer logger.Sync()

	client, err := zkcoord.Dial(strings.Split(zkAddr, ","), sessionTimeout, logger)
	if err != nil {
		return fmt.Errorf("sync: connect to zookeeper: %w", err)
	}
	defer client.Close()

	driver := syncdriver.New(client, stateDir,
		syncdriver.WithLogger(logger),
		syncdriver.WithVCSRegistry(vcs.Default()),
	)
	return driver.Sync(ctx, sourceURL, force)
}

func newLogger(verbose bool) (*zap.Logger, error) {
	if verbose {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}
