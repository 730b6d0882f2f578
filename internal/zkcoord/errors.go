package zkcoord

import (
	"errors"
	"fmt"

	"github.com/samuel/go-zookeeper/zk"
)

// NoNodeError reports that a path does not exist in the coordination tree.
type NoNodeError struct {
	Path string
}

func (e *NoNodeError) Error() string { return fmt.Sprintf("zkcoord: no node at %q", e.Path) }

// NodeExistsError reports that a create raced an existing node.
type NodeExistsError struct {
	Path string
}

func (e *NodeExistsError) Error() string { return fmt.Sprintf("zkcoord: node already exists at %q", e.Path) }

// ConnectionLostError wraps a session-level failure of the underlying
// ZooKeeper connection; callers that see this should assume any pending
// watch needs to be re-issued once the client reconnects.
type ConnectionLostError struct {
	Err error
}

func (e *ConnectionLostError) Error() string { return fmt.Sprintf("zkcoord: connection lost: %v", e.Err) }
func (e *ConnectionLostError) Unwrap() error { return e.Err }

// translate maps the underlying client's errors onto our distinct kinds so
// callers never need to import github.com/samuel/go-zookeeper/zk directly.
func translate(path string, err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, zk.ErrNoNode):
		return &NoNodeError{Path: path}
	case errors.Is(err, zk.ErrNodeExists):
		return &NodeExistsError{Path: path}
	case errors.Is(err, zk.ErrConnectionClosed), errors.Is(err, zk.ErrNoServer):
		return &ConnectionLostError{Err: err}
	default:
		return fmt.Errorf("zkcoord: %s: %w", path, err)
	}
}
