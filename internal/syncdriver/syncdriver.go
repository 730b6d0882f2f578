// Package syncdriver implements the reference-scope sync driver of
// spec.md §4.6: it reads a tree description from a canonical VCS URL and
// imports it into the coordination tree, establishing the cluster_version
// the agent (internal/reconciler) reconciles against. Unlike the agent,
// this is a one-shot CLI operation, not a long-running watcher.
package syncdriver

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/spf13/afero"
	"go.uber.org/zap"

	"github.com/zc-zkdeployment/agent/internal/hoststate"
	"github.com/zc-zkdeployment/agent/internal/vcs"
	"github.com/zc-zkdeployment/agent/internal/zkcoord"
)

const (
	hostsPath     = "/hosts"
	hostsLockPath = "/hosts-lock"
)

// Coordinator is the subset of *zkcoord.Client the driver needs. Tests
// supply a fake; production code passes a live *zkcoord.Client, which
// satisfies this structurally.
type Coordinator interface {
	Exists(path string) (bool, error)
	GetChildren(path string) ([]string, error)
	GetProperties(path string) (zkcoord.Properties, error)
	SetProperties(path string, updates zkcoord.Properties) error
	Create(path string, props zkcoord.Properties, opts zkcoord.CreateOptions) (string, error)
	Delete(path string) error
}

// Driver runs one sync-with-canonical-source cycle at a time.
type Driver struct {
	client Coordinator
	vcsreg *vcs.Registry
	fs     afero.Fs
	log    *zap.Logger

	lockPath      string
	tombstonePath string
	checkoutDir   string
}

// Option configures a Driver constructed by New.
type Option func(*Driver)

// WithLogger overrides the driver's logger, which defaults to a no-op.
func WithLogger(log *zap.Logger) Option {
	return func(d *Driver) { d.log = log }
}

// WithFS overrides the driver's filesystem, which defaults to the real
// one. Tests pass an afero.NewMemMapFs().
func WithFS(fs afero.Fs) Option {
	return func(d *Driver) { d.fs = fs }
}

// WithVCSRegistry overrides the VCS backend registry used to resolve the
// canonical source URL, which defaults to an empty registry.
func WithVCSRegistry(r *vcs.Registry) Option {
	return func(d *Driver) { d.vcsreg = r }
}

// New returns a Driver that coordinates through client and keeps its
// host-lock and tombstone files under stateDir.
func New(client Coordinator, stateDir string, opts ...Option) *Driver {
	d := &Driver{
		client:        client,
		vcsreg:        vcs.NewRegistry(),
		fs:            afero.NewOsFs(),
		log:           zap.NewNop(),
		lockPath:      filepath.Join(stateDir, "sync.lock"),
		tombstonePath: filepath.Join(stateDir, "sync.tombstone"),
		checkoutDir:   filepath.Join(stateDir, "checkout"),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Sync runs one import cycle from sourceURL (a "<scheme>:<rest>" VCS
// version string, resolved the same way a deployment version is in
// §4.5.7). force overrides both refusal conditions of §4.6. It returns
// nil both when an import actually happened and when there was nothing
// to do (the cluster version already equals sourceURL).
func (d *Driver) Sync(ctx context.Context, sourceURL string, force bool) error {
	release, err := d.acquireHostLock()
	if err != nil {
		return err
	}
	defer release()

	if err := d.run(ctx, sourceURL, force); err != nil {
		d.writeTombstone(err)
		return err
	}
	d.clearTombstone()
	return nil
}

func (d *Driver) run(ctx context.Context, sourceURL string, force bool) error {
	clusterVersion, err := d.currentClusterVersion()
	if err != nil {
		return err
	}
	if clusterVersion.IsAllStop() {
		d.log.Warn("syncdriver: cluster version is null (ALL STOP)")
		if !force {
			return &RefusalError{Reason: "cluster version is null (ALL STOP); pass --force to import anyway"}
		}
	}

	revision, err := d.checkout(ctx, sourceURL)
	if err != nil {
		return err
	}
	sourceVersion := zkcoord.ClusterVersion{Raw: revision}
	d.log.Info("syncdriver: resolved canonical source",
		zap.String("cluster_version", clusterVersion.String()),
		zap.String("source_version", sourceVersion.String()))

	if clusterVersion.Equal(sourceVersion) {
		d.log.Info("syncdriver: already at the canonical source's revision, nothing to do")
		return nil
	}

	if !force {
		if err := d.checkHostsConverged(clusterVersion); err != nil {
			return err
		}
	}

	releaseHostsLock, err := d.acquireHostsLock()
	if err != nil {
		return err
	}
	defer releaseHostsLock()

	files, err := d.listTreeFiles()
	if err != nil {
		return err
	}
	for _, fi := range files {
		if err := d.importFile(fi); err != nil {
			return fmt.Errorf("syncdriver: import %s: %w", fi, err)
		}
		d.log.Info("syncdriver: imported", zap.String("file", filepath.Base(fi)))
	}

	return d.client.SetProperties(hostsPath, zkcoord.Properties{"version": revision})
}

// currentClusterVersion reads /hosts.version, bootstrapping the node
// with an "initial" version if the coordination tree has never been
// synced before (the original implementation's get_zk_version).
func (d *Driver) currentClusterVersion() (zkcoord.ClusterVersion, error) {
	props, err := d.client.GetProperties(hostsPath)
	if err != nil {
		if _, ok := err.(*zkcoord.NoNodeError); ok {
			if _, createErr := d.client.Create(hostsPath, zkcoord.Properties{"version": "initial"}, zkcoord.CreateOptions{}); createErr != nil {
				return zkcoord.ClusterVersion{}, fmt.Errorf("syncdriver: bootstrap /hosts: %w", createErr)
			}
			return zkcoord.ClusterVersion{Raw: "initial"}, nil
		}
		return zkcoord.ClusterVersion{}, fmt.Errorf("syncdriver: read /hosts: %w", err)
	}
	return zkcoord.NewClusterVersion(props), nil
}

// checkHostsConverged implements the second §4.6 refusal condition: every
// live host must already have converged to clusterVersion, or resyncing
// on top of a half-converged fleet would be unobservable chaos.
func (d *Driver) checkHostsConverged(clusterVersion zkcoord.ClusterVersion) error {
	children, err := d.client.GetChildren(hostsPath)
	if err != nil {
		return fmt.Errorf("syncdriver: list hosts: %w", err)
	}
	for _, child := range children {
		hostPath := hostsPath + "/" + child
		props, err := d.client.GetProperties(hostPath)
		if err != nil {
			return fmt.Errorf("syncdriver: read %s: %w", hostPath, err)
		}
		hostVersion := zkcoord.NewClusterVersion(props)
		if !hostVersion.Equal(clusterVersion) {
			return &RefusalError{Reason: fmt.Sprintf(
				"host %s has not converged (host version %s, cluster version %s); pass --force to import anyway",
				child, hostVersion, clusterVersion)}
		}
	}
	return nil
}

// acquireHostsLock takes the cluster-wide, non-blocking /hosts-lock for
// the duration of the import itself — not the whole Sync call, so other
// hosts are never blocked any longer than the actual tree mutation takes.
func (d *Driver) acquireHostsLock() (release func(), err error) {
	if _, err := d.client.Create(hostsLockPath, zkcoord.Properties{}, zkcoord.CreateOptions{Ephemeral: true}); err != nil {
		if _, ok := err.(*zkcoord.NodeExistsError); ok {
			return nil, &LockedError{Reason: "couldn't obtain the cluster lock, another sync is in progress"}
		}
		return nil, fmt.Errorf("syncdriver: acquire %s: %w", hostsLockPath, err)
	}
	return func() {
		if err := d.client.Delete(hostsLockPath); err != nil {
			d.log.Warn("syncdriver: failed to release hosts-lock", zap.Error(err))
		}
	}, nil
}

// checkout resolves sourceURL through the VCS registry the same way
// internal/reconciler's installSomething does, and returns sourceURL
// itself, which becomes the new cluster_version. No revision number is
// read from the checkout.
func (d *Driver) checkout(ctx context.Context, sourceURL string) (string, error) {
	scheme, _, ok := vcs.ParseVersion(sourceURL)
	if !ok {
		return "", fmt.Errorf("syncdriver: canonical source %q has no <scheme>: prefix", sourceURL)
	}
	backend, found := d.vcsreg.Lookup(scheme)
	if !found {
		return "", fmt.Errorf("syncdriver: no vcs backend registered for scheme %q", scheme)
	}
	if err := backend.Update(ctx, d.checkoutDir, scheme, sourceURL); err != nil {
		return "", fmt.Errorf("syncdriver: checkout canonical source: %w", err)
	}
	return sourceURL, nil
}

// listTreeFiles returns every .zk and .zkx file in the checkout, .zk
// files sorted ahead of .zkx files (trimming imports before overlays,
// matching the original implementation's "zkfiles + zkxfiles" ordering),
// alphabetically within each group.
func (d *Driver) listTreeFiles() ([]string, error) {
	entries, err := os.ReadDir(d.checkoutDir)
	if err != nil {
		return nil, fmt.Errorf("syncdriver: list checkout: %w", err)
	}
	var zk, zkx []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		switch {
		case strings.HasSuffix(e.Name(), ".zkx"):
			zkx = append(zkx, filepath.Join(d.checkoutDir, e.Name()))
		case strings.HasSuffix(e.Name(), ".zk"):
			zk = append(zk, filepath.Join(d.checkoutDir, e.Name()))
		}
	}
	sort.Strings(zk)
	sort.Strings(zkx)
	return append(zk, zkx...), nil
}

// importFile applies one .zk (trimming) or .zkx (overlay) file, rooted at
// the coordination-tree path its own filename encodes (the same
// flat-path convention internal/hoststate uses for on-disk markers:
// "cust,app.zk" imports under "/cust/app").
func (d *Driver) importFile(path string) error {
	base := filepath.Base(path)
	trim := strings.HasSuffix(base, ".zk")
	flat := strings.TrimSuffix(strings.TrimSuffix(base, ".zkx"), ".zk")
	root := hoststate.FlatNameToPath(flat)

	contents, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read: %w", err)
	}
	entries, err := parseTree(string(contents))
	if err != nil {
		return err
	}

	if trim {
		return applyImport(d.client, root, entries)
	}
	return applyOverlay(d.client, entries)
}
