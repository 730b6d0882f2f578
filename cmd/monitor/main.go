package main

import (
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/zc-zkdeployment/agent/internal/config"
	"github.com/zc-zkdeployment/agent/internal/status"
	"github.com/zc-zkdeployment/agent/internal/zkcoord"
)

const sessionTimeout = 10 * time.Second

func main() {
	var (
		warnSeconds  int
		errorSeconds int
		zkAddr       string
	)

	cmd := &cobra.Command{
		Use:  "monitor CONFIG",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			code, line, err := check(args[0], zkAddr, time.Duration(warnSeconds)*time.Second, time.Duration(errorSeconds)*time.Second)
			if err != nil {
				return err
			}
			fmt.Println(line)
			os.Exit(code)
			return nil
		},
	}
	cmd.Flags().IntVar(&warnSeconds, "warn", 300, "seconds since the last status write before reporting a warning")
	cmd.Flags().IntVar(&errorSeconds, "error", 900, "seconds since the last status write before reporting an error")
	cmd.Flags().StringVar(&zkAddr, "zookeeper", "127.0.0.1:2181", "comma-separated ZooKeeper ensemble address")

	if err := cmd.Execute(); err != nil {
		log.Fatal(err)
	}
}

// check implements spec.md §6's monitor exit-code table, returning the
// exit code and the single human-readable line to print alongside it.
func check(configPath, zkAddr string, warn, errorThreshold time.Duration) (int, string, error) {
	fs := afero.NewOsFs()
	cfg, err := config.Load(fs, configPath)
	if err != nil {
		return 0, "", err
	}

	client, err := zkcoord.Dial(strings.Split(zkAddr, ","), sessionTimeout, zap.NewNop())
	if err != nil {
		return 0, "", fmt.Errorf("monitor: connect to zookeeper: %w", err)
	}
	defer client.Close()

	hostPath := "/hosts/" + cfg.HostID
	reporter := status.New(fs, cfg.RunDirectory, 0, client, hostPath)
	st, err := reporter.Read()
	if err != nil {
		return 2, fmt.Sprintf("no status available for host %s: %v", cfg.HostID, err), nil
	}

	hostsProps, err := client.GetProperties("/hosts")
	if err != nil {
		return 0, "", fmt.Errorf("monitor: read /hosts: %w", err)
	}
	clusterVersion := zkcoord.NewClusterVersion(hostsProps)

	hostProps, err := client.GetProperties(hostPath)
	if err != nil {
		return 2, fmt.Sprintf("host %s has no coordination-tree node: %v", cfg.HostID, err), nil
	}
	hostVersion := zkcoord.NewClusterVersion(hostProps)

	age := time.Since(st.Epoch)
	summary := fmt.Sprintf("host=%s status=%q status_version=%s cluster_version=%s host_version=%s age=%s",
		cfg.HostID, st.Phrase, st.Version, clusterVersion, hostVersion, age.Round(time.Second))

	switch {
	case st.Phrase == "error":
		return 2, "ERROR: last deploy failed: " + summary, nil
	case age > errorThreshold:
		return 2, "ERROR: status is stale: " + summary, nil
	case clusterVersion.IsAllStop():
		return 1, "WARN: cluster is in ALL-STOP: " + summary, nil
	case st.Version != clusterVersion.String() || !hostVersion.Equal(clusterVersion):
		return 2, "ERROR: version mismatch: " + summary, nil
	case age > warn:
		return 1, "WARN: status is stale: " + summary, nil
	default:
		return 0, "OK: " + summary, nil
	}
}
