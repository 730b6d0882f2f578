package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/zc-zkdeployment/agent/internal/config"
	"github.com/zc-zkdeployment/agent/internal/reconciler"
	"github.com/zc-zkdeployment/agent/internal/zkcoord"
)

const sessionTimeout = 10 * time.Second

func main() {
	var (
		verbose    bool
		runOnce    bool
		assertAddr string
		zkAddr     string
	)

	cmd := &cobra.Command{
		Use:  "agent CONFIG",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), args[0], verbose, runOnce, assertAddr, zkAddr)
		},
	}
	cmd.Flags().BoolVar(&verbose, "verbose", false, "enable debug-level logging")
	cmd.Flags().BoolVar(&runOnce, "run-once", false, "perform exactly one deploy cycle and exit")
	cmd.Flags().StringVar(&assertAddr, "assert-zookeeper-address", "", "fail startup unless --zookeeper is exactly this address")
	cmd.Flags().StringVar(&zkAddr, "zookeeper", "127.0.0.1:2181", "comma-separated ZooKeeper ensemble address")

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()
	cmd.SetContext(ctx)

	if err := cmd.Execute(); err != nil {
		var missing *config.MissingValueError
		if errors.As(err, &missing) {
			log.Print(err)
			os.Exit(2)
		}
		log.Fatal(err)
	}
}

func run(ctx context.Context, configPath string, verbose, runOnce bool, assertAddr, zkAddr string) error {
	log, err := newLogger(verbose)
	if err != nil {
		return err
	}
	defer log.Sync()

	if assertAddr != "" && assertAddr != zkAddr {
		return fmt.Errorf("agent: --assert-zookeeper-address %q does not match --zookeeper %q", assertAddr, zkAddr)
	}

	cfg, err := config.Load(afero.NewOsFs(), configPath)
	if err != nil {
		return err
	}

	servers := strings.Split(zkAddr, ",")
	client, err := zkcoord.Dial(servers, sessionTimeout, log)
	if err != nil {
		return fmt.Errorf("agent: connect to zookeeper: %w", err)
	}

	agent, err := reconciler.NewAgent(client, cfg.HostID, cfg.RunDirectory, cfg.Role, cfg.After,
		reconciler.WithLogger(log),
		reconciler.WithZKConnectionString(zkAddr),
	)
	if err != nil {
		client.Close()
		return fmt.Errorf("agent: construct agent: %w", err)
	}
	defer agent.Close()

	if err := agent.Start(ctx); err != nil {
		return fmt.Errorf("agent: start: %w", err)
	}

	if runOnce {
		return agent.RunOnce(ctx)
	}
	if err := agent.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func newLogger(verbose bool) (*zap.Logger, error) {
	if verbose {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}
