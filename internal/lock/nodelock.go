// Package lock implements the two mutual-exclusion flavors spec.md §4.4
// (component C4) describes on top of the coordination client: a
// short-lived ephemeral per-deployment lock, and a persistent per-role
// lock whose holder survives agent restarts. Both follow the classic
// ZooKeeper "smallest sequential child wins" recipe, the same recipe
// github.com/samuel/go-zookeeper/zk's own Lock type implements and the
// one _examples/other_examples/...vault...physical-zookeeper.go's
// ZookeeperHALock drives by hand around that type.
package lock

import (
	"context"
	"fmt"
	"path"
	"strings"

	"github.com/zc-zkdeployment/agent/internal/hoststate"
	"github.com/zc-zkdeployment/agent/internal/zkcoord"
)

const agentLocksRoot = "/agent-locks"

// NodeLock is a held ephemeral sequential lock at
// /agent-locks/<flat-path>/<sequence>. The zero value is not usable; use
// AcquireNodeLock.
type NodeLock struct {
	client   *zkcoord.Client
	lockPath string
}

// AcquireNodeLock blocks until it holds the lock guarding zkPath, or ctx
// is done. Release unconditionally via Release once acquired, on every
// exit path (success, error, cancellation) — per spec.md §4.4.
func AcquireNodeLock(ctx context.Context, client *zkcoord.Client, zkPath string) (*NodeLock, error) {
	parent := path.Join(agentLocksRoot, hoststate.PathToFlatName(zkPath))
	if err := ensureParent(client, parent); err != nil {
		return nil, err
	}

	mine, err := client.Create(parent+"/lock-", zkcoord.Properties{}, zkcoord.CreateOptions{Ephemeral: true, Sequence: true})
	if err != nil {
		return nil, fmt.Errorf("lock: create sequential child under %s: %w", parent, err)
	}

	if err := waitForSmallest(ctx, client, parent, mine); err != nil {
		_ = client.Delete(mine)
		return nil, err
	}

	return &NodeLock{client: client, lockPath: mine}, nil
}

// Release drops the ephemeral lock node. It is safe to call more than
// once; the second call is a no-op error that is swallowed.
func (l *NodeLock) Release() {
	_ = l.client.Delete(l.lockPath)
}

func ensureParent(client *zkcoord.Client, parent string) error {
	exists, err := client.Exists(parent)
	if err != nil {
		return fmt.Errorf("lock: check %s: %w", parent, err)
	}
	if exists {
		return nil
	}
	if _, err := client.Create(parent, zkcoord.Properties{}, zkcoord.CreateOptions{}); err != nil {
		if _, already := err.(*zkcoord.NodeExistsError); already {
			return nil
		}
		return fmt.Errorf("lock: create parent %s: %w", parent, err)
	}
	return nil
}

// waitForSmallest blocks until ownPath's sequence number is the smallest
// among its siblings under parent, watching the next-smaller sibling's
// deletion rather than polling.
func waitForSmallest(ctx context.Context, client *zkcoord.Client, parent, ownPath string) error {
	ownName := strings.TrimPrefix(ownPath, parent+"/")
	for {
		children, err := client.GetChildren(parent)
		if err != nil {
			return fmt.Errorf("lock: list children of %s: %w", parent, err)
		}

		predecessor := smallestPredecessor(children, ownName)
		if predecessor == "" {
			return nil
		}
		if err := client.AwaitDeletion(ctx, parent+"/"+predecessor); err != nil {
			return fmt.Errorf("lock: await predecessor %s: %w", predecessor, err)
		}
	}
}

// smallestPredecessor returns the lexically-largest sibling strictly
// smaller than own — i.e. the one immediately ahead of own in the queue —
// or "" if own is already the smallest. Sequential znode names are
// fixed-width zero-padded, so lexical order matches numeric order.
func smallestPredecessor(siblings []string, own string) string {
	predecessor := ""
	for _, c := range siblings {
		if c == own {
			continue
		}
		if c < own && c > predecessor {
			predecessor = c
		}
	}
	return predecessor
}
