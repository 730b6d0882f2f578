package syncdriver

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"
	"github.com/spf13/afero"
	"go.uber.org/zap"
)

// acquireHostLock guarantees at-most-one sync driver runs on this host
// machine at a time (§4.6), independent of the cluster-wide /hosts-lock
// this driver also takes once it decides an import is actually needed.
// It never blocks: a driver that is already running on this host causes
// a new invocation to fail immediately rather than queue up behind it.
func (d *Driver) acquireHostLock() (release func(), err error) {
	if err := d.fs.MkdirAll(filepath.Dir(d.lockPath), 0o755); err != nil {
		return nil, fmt.Errorf("syncdriver: create lock directory: %w", err)
	}
	fl := flock.New(d.lockPath)
	locked, err := fl.TryLock()
	if err != nil {
		return nil, fmt.Errorf("syncdriver: lock %s: %w", d.lockPath, err)
	}
	if !locked {
		reason, _ := d.readTombstone()
		msg := "a sync driver is already running on this host"
		if reason != "" {
			msg += " (last failure: " + reason + ")"
		}
		return nil, &LockedError{Reason: msg}
	}
	return func() { _ = fl.Unlock() }, nil
}

// writeTombstone preserves the reason the most recent sync attempt
// failed, so a later run (or an operator) can see why without having to
// go dig through logs.
func (d *Driver) writeTombstone(cause error) {
	line := fmt.Sprintf("%s: %s\n", time.Now().UTC().Format(time.RFC3339), cause.Error())
	if err := afero.WriteFile(d.fs, d.tombstonePath, []byte(line), 0o644); err != nil {
		d.log.Warn("syncdriver: failed to write tombstone", zap.Error(err))
	}
}

func (d *Driver) readTombstone() (string, error) {
	data, err := afero.ReadFile(d.fs, d.tombstonePath)
	if err != nil {
		return "", nil
	}
	return string(data), nil
}

func (d *Driver) clearTombstone() {
	_ = d.fs.Remove(d.tombstonePath)
}
