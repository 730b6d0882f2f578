// Package reconciler implements the deployment state machine (spec.md
// §4.5, component C5): the startup sequence that claims this host's
// ephemeral coordination-tree node, the watch-driven single-worker queue
// that reacts to cluster_version changes, and the deploy() algorithm that
// converges local host state to the desired state using C1-C4.
package reconciler

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/afero"
	"go.uber.org/zap"

	"github.com/zc-zkdeployment/agent/internal/hoststate"
	"github.com/zc-zkdeployment/agent/internal/pkgmanager"
	"github.com/zc-zkdeployment/agent/internal/status"
	"github.com/zc-zkdeployment/agent/internal/vcs"
	"github.com/zc-zkdeployment/agent/internal/zkcoord"
)

const hostsPath = "/hosts"

// Agent owns one host's reconcile loop.
type Agent struct {
	client   *zkcoord.Client
	pkg      *pkgmanager.Manager
	vcs      *vcs.Registry
	fs       afero.Fs
	hostst   *hoststate.State
	status   *status.Reporter
	log      *zap.Logger
	zkAddr   string

	hostID   string
	hostname string
	role     string
	runDir   string
	after    []string
	hostPath string

	roleController string
	clusterVersion zkcoord.ClusterVersion
	hostVersion    zkcoord.ClusterVersion

	pending chan struct{}
	failing bool
}

// Option configures an Agent at construction time, following this
// repository's functional-options constructor idiom.
type Option func(*Agent)

// WithLogger overrides the nop default logger.
func WithLogger(log *zap.Logger) Option {
	return func(a *Agent) { a.log = log }
}

// WithPackageManager overrides the default yum-backed package manager.
func WithPackageManager(m *pkgmanager.Manager) Option {
	return func(a *Agent) { a.pkg = m }
}

// WithVCSRegistry overrides the default VCS backend registry.
func WithVCSRegistry(r *vcs.Registry) Option {
	return func(a *Agent) { a.vcs = r }
}

// WithHostState overrides the default real-filesystem host state.
func WithHostState(s *hoststate.State) Option {
	return func(a *Agent) { a.hostst = s }
}

// WithFS overrides the default real filesystem, used for the status and
// host_version files.
func WithFS(fs afero.Fs) Option {
	return func(a *Agent) { a.fs = fs }
}

// WithHostname overrides os.Hostname()'s result, for tests.
func WithHostname(name string) Option {
	return func(a *Agent) { a.hostname = name }
}

// WithZKConnectionString records the ensemble address passed to
// subprocesses via ZC_ZK_CONNECTION_STRING (spec.md §6).
func WithZKConnectionString(addr string) Option {
	return func(a *Agent) { a.zkAddr = addr }
}

// NewAgent returns an Agent for hostID, with the given run directory,
// optional role, and optional after-hook command. client must already be
// connected.
func NewAgent(client *zkcoord.Client, hostID, runDir, role string, after []string, opts ...Option) (*Agent, error) {
	a := &Agent{
		client:   client,
		pkg:      pkgmanager.New(),
		fs:       afero.NewOsFs(),
		log:      zap.NewNop(),
		hostID:   hostID,
		runDir:   runDir,
		role:     role,
		after:    after,
		hostPath: hostsPath + "/" + hostID,
		pending:  make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(a)
	}
	if a.vcs == nil {
		a.vcs = vcs.Default()
	}
	if a.hostst == nil {
		a.hostst = hoststate.New(a.fs, os.Getenv("TEST_ROOT"))
	}
	if a.hostname == "" {
		name, err := os.Hostname()
		if err != nil {
			return nil, fmt.Errorf("reconciler: resolve hostname: %w", err)
		}
		a.hostname = name
	}
	a.status = status.New(a.fs, a.runDir, os.Getpid(), a.client, a.hostPath)
	return a, nil
}

// Start performs the §4.5.1 startup sequence: reconciling any stale host
// node, claiming a fresh ephemeral one, normalizing HOME, snapshotting
// cluster_version, and arming the change watch. It does not itself run a
// deploy; call Deploy or Run.
func (a *Agent) Start(ctx context.Context) error {
	if err := a.loadPersistedVersion(); err != nil {
		return err
	}
	if err := a.reconcileStaleNode(); err != nil {
		return err
	}
	normalizeHome()

	if _, err := a.client.Create(a.hostPath, a.hostNodeProperties(), zkcoord.CreateOptions{Ephemeral: true}); err != nil {
		return fmt.Errorf("reconciler: create host node: %w", err)
	}

	hostsProps, err := a.client.GetProperties(hostsPath)
	if err != nil {
		return fmt.Errorf("reconciler: read %s: %w", hostsPath, err)
	}
	a.clusterVersion = zkcoord.NewClusterVersion(hostsProps)
	a.log.Info("agent started", zap.String("host_id", a.hostID), zap.String("cluster_version", a.clusterVersion.String()))

	a.client.WatchProperties(hostsPath, a.onHostsChanged)
	return nil
}

func (a *Agent) hostNodeProperties() zkcoord.Properties {
	props := zkcoord.Properties{
		"name":    a.hostname,
		"version": a.hostVersion.Raw,
	}
	if a.role != "" {
		props["role"] = a.role
	}
	return props
}

func (a *Agent) loadPersistedVersion() error {
	data, err := afero.ReadFile(a.fs, a.hostVersionPath())
	if err != nil {
		a.hostVersion = zkcoord.ClusterVersion{Raw: nil}
		return nil
	}
	var raw interface{}
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("reconciler: parse %s: %w", a.hostVersionPath(), err)
	}
	a.hostVersion = zkcoord.ClusterVersion{Raw: raw}
	return nil
}

func (a *Agent) hostVersionPath() string {
	return a.runDir + "/host_version"
}

// reconcileStaleNode implements §4.5.1 step 2: a leftover non-ephemeral
// node means a prior process crashed without its ephemeral being
// collected (impossible for a true ephemeral, but the node can also be a
// persistent placeholder from e.g. a restored backup); inherit its
// version and clear it. A leftover ephemeral node means another live
// agent holds the identity.
func (a *Agent) reconcileStaleNode() error {
	exists, err := a.client.Exists(a.hostPath)
	if err != nil {
		return fmt.Errorf("reconciler: check %s: %w", a.hostPath, err)
	}
	if !exists {
		return nil
	}
	ephemeral, err := a.client.IsEphemeral(a.hostPath)
	if err != nil {
		return fmt.Errorf("reconciler: check ephemeral %s: %w", a.hostPath, err)
	}
	if ephemeral {
		return &ConfigurationError{Message: "Another agent is running"}
	}
	props, err := a.client.GetProperties(a.hostPath)
	if err != nil {
		return fmt.Errorf("reconciler: read stale %s: %w", a.hostPath, err)
	}
	a.hostVersion = zkcoord.NewClusterVersion(props)
	if err := a.client.Delete(a.hostPath); err != nil {
		return fmt.Errorf("reconciler: delete stale %s: %w", a.hostPath, err)
	}
	return nil
}

func normalizeHome() {
	home := os.Getenv("HOME")
	if home == "" {
		os.Setenv("HOME", "/root")
		return
	}
	if info, err := os.Stat(home); err != nil || !info.IsDir() {
		os.Setenv("HOME", "/root")
	}
}

func (a *Agent) onHostsChanged(props zkcoord.Properties) {
	cv := zkcoord.NewClusterVersion(props)
	if cv.IsAllStop() {
		return
	}
	select {
	case a.pending <- struct{}{}:
	default:
	}
}

// Run drains the pending-deployment queue forever, one deploy() attempt
// at a time, until ctx is done.
func (a *Agent) Run(ctx context.Context) error {
	select {
	case a.pending <- struct{}{}: // run once immediately at startup
	default:
	}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-a.pending:
			if err := a.refreshClusterVersion(); err != nil {
				a.log.Error("failed to refresh cluster version", zap.Error(err))
				continue
			}
			if err := a.Deploy(ctx); err != nil {
				a.log.Error("deploy failed", zap.Error(err))
			}
		}
	}
}

// RunOnce performs exactly one deploy() attempt against the
// currently-known cluster_version and returns, for the --run-once CLI
// flag.
func (a *Agent) RunOnce(ctx context.Context) error {
	return a.Deploy(ctx)
}

func (a *Agent) refreshClusterVersion() error {
	props, err := a.client.GetProperties(hostsPath)
	if err != nil {
		return err
	}
	a.clusterVersion = zkcoord.NewClusterVersion(props)
	return nil
}

func (a *Agent) subprocessEnv() []string {
	if a.zkAddr == "" {
		return nil
	}
	return []string{"ZC_ZK_CONNECTION_STRING=" + a.zkAddr}
}

// Close ends the coordination session, which drops this host's ephemeral
// node — the spec.md §5 SIGTERM disposition.
func (a *Agent) Close() {
	a.client.Close()
}
