package lock

import (
	"context"
	"fmt"
	"path"

	"github.com/zc-zkdeployment/agent/internal/zkcoord"
)

const roleLocksRoot = "/role-locks"

// ConfigurationError reports a setup problem the caller cannot recover
// from by retrying — per spec.md §7, fatal at the component boundary it
// is raised from.
type ConfigurationError struct {
	Message string
}

func (e *ConfigurationError) Error() string { return e.Message }

// RoleLock is a held entry under /role-locks/<role>. Unlike NodeLock, its
// entry is non-ephemeral: on successful completion of the locked work the
// caller must call Succeed to delete it, but on failure the caller calls
// Abandon to retain it, so a future restart of the same host adopts the
// same queue position instead of losing its place (spec.md §4.4).
type RoleLock struct {
	client   *zkcoord.Client
	lockPath string
	adopted  bool
}

// AcquireRoleLock blocks until the caller holds the persistent lock for
// role, or ctx is done. If hostID already has a pending entry from a
// previous run, that entry is adopted in place of creating a new one.
func AcquireRoleLock(ctx context.Context, client *zkcoord.Client, role, hostID, hostname string) (*RoleLock, error) {
	parent := path.Join(roleLocksRoot, role)
	exists, err := client.Exists(parent)
	if err != nil {
		return nil, fmt.Errorf("lock: check %s: %w", parent, err)
	}
	if !exists {
		return nil, &ConfigurationError{Message: fmt.Sprintf("lock: role-lock parent %s does not exist", parent)}
	}

	children, err := client.GetChildren(parent)
	if err != nil {
		return nil, fmt.Errorf("lock: list children of %s: %w", parent, err)
	}
	for _, c := range children {
		childPath := parent + "/" + c
		props, err := client.GetProperties(childPath)
		if err != nil {
			continue
		}
		if requestor, _ := props["requestor"].(string); requestor == hostID {
			if err := waitForSmallest(ctx, client, parent, childPath); err != nil {
				return nil, err
			}
			return &RoleLock{client: client, lockPath: childPath, adopted: true}, nil
		}
	}

	mine, err := client.Create(parent+"/lock-", zkcoord.Properties{
		"requestor": hostID,
		"hostname":  hostname,
	}, zkcoord.CreateOptions{Sequence: true})
	if err != nil {
		return nil, fmt.Errorf("lock: create sequential child under %s: %w", parent, err)
	}

	if err := waitForSmallest(ctx, client, parent, mine); err != nil {
		return nil, err
	}
	return &RoleLock{client: client, lockPath: mine}, nil
}

// Succeed deletes the lock entry, releasing the role for the next queued
// holder, per spec.md §4.4's "on successful exit the entry is deleted".
func (l *RoleLock) Succeed() error {
	return l.client.Delete(l.lockPath)
}

// Abandon retains the lock entry on disk — the role stays held until a
// human or the sync driver resets it, per spec.md §4.4's "on exceptional
// exit the entry is retained".
func (l *RoleLock) Abandon() {}
