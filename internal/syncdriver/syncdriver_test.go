package syncdriver

import (
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zc-zkdeployment/agent/internal/zkcoord"
)

func newTestDriver(t *testing.T, c Coordinator) (*Driver, string) {
	t.Helper()
	dir := t.TempDir()
	d := New(c, dir, WithFS(afero.NewOsFs()))
	return d, dir
}

func TestCurrentClusterVersionBootstrapsMissingHostsNode(t *testing.T) {
	c := newFakeCoordinator()
	d, _ := newTestDriver(t, c)

	v, err := d.currentClusterVersion()
	require.NoError(t, err)
	assert.Equal(t, "initial", v.Raw)

	exists, err := c.Exists(hostsPath)
	require.NoError(t, err)
	assert.True(t, exists)
}

func TestCheckHostsConvergedRefusesOnMismatch(t *testing.T) {
	c := newFakeCoordinator()
	_, err := c.Create(hostsPath, zkcoord.Properties{"version": "7"}, zkcoord.CreateOptions{})
	require.NoError(t, err)
	_, err = c.Create(hostsPath+"/stale-host", zkcoord.Properties{"version": "6"}, zkcoord.CreateOptions{})
	require.NoError(t, err)
	d, _ := newTestDriver(t, c)

	err = d.checkHostsConverged(zkcoord.ClusterVersion{Raw: "7"})
	var refusal *RefusalError
	require.ErrorAs(t, err, &refusal)
}

func TestCheckHostsConvergedPassesWhenAllAgree(t *testing.T) {
	c := newFakeCoordinator()
	_, err := c.Create(hostsPath, zkcoord.Properties{"version": "7"}, zkcoord.CreateOptions{})
	require.NoError(t, err)
	_, err = c.Create(hostsPath+"/host-a", zkcoord.Properties{"version": "7"}, zkcoord.CreateOptions{})
	require.NoError(t, err)
	d, _ := newTestDriver(t, c)

	require.NoError(t, d.checkHostsConverged(zkcoord.ClusterVersion{Raw: "7"}))
}

func TestAcquireHostsLockIsNonBlocking(t *testing.T) {
	c := newFakeCoordinator()
	d, _ := newTestDriver(t, c)

	release, err := d.acquireHostsLock()
	require.NoError(t, err)

	_, err = d.acquireHostsLock()
	var locked *LockedError
	require.ErrorAs(t, err, &locked)

	release()
	_, err = d.acquireHostsLock()
	require.NoError(t, err)
}

func TestRunRefusesAllStopWithoutForce(t *testing.T) {
	c := newFakeCoordinator()
	_, err := c.Create(hostsPath, zkcoord.Properties{"version": nil}, zkcoord.CreateOptions{})
	require.NoError(t, err)
	d, _ := newTestDriver(t, c)

	err = d.run(nil, "fake://repo#main", false)
	var refusal *RefusalError
	require.ErrorAs(t, err, &refusal)
}

func TestAcquireHostLockRefusesConcurrentDriver(t *testing.T) {
	c := newFakeCoordinator()
	d, _ := newTestDriver(t, c)

	release, err := d.acquireHostLock()
	require.NoError(t, err)
	defer release()

	_, err = d.acquireHostLock()
	var locked *LockedError
	require.ErrorAs(t, err, &locked)
}

func TestTombstoneRoundTrip(t *testing.T) {
	c := newFakeCoordinator()
	d, _ := newTestDriver(t, c)

	d.writeTombstone(assertError{"checkout failed"})
	reason, err := d.readTombstone()
	require.NoError(t, err)
	assert.Contains(t, reason, "checkout failed")

	d.clearTombstone()
	reason, _ = d.readTombstone()
	assert.Empty(t, reason)
}

type assertError struct{ msg string }

func (e assertError) Error() string { return e.msg }
