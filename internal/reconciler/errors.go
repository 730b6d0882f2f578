package reconciler

import "fmt"

// ConfigurationError is fatal at startup: process exits non-zero per
// spec.md §7.
type ConfigurationError struct {
	Message string
}

func (e *ConfigurationError) Error() string { return e.Message }

// VersionConflictError reports that two deployments sharing an rpm-name
// demand different versions — fatal for the deploy cycle (spec.md §4.5.5).
type VersionConflictError struct {
	RPMName  string
	Versions []string
}

func (e *VersionConflictError) Error() string {
	return fmt.Sprintf("reconciler: conflicting versions for %s: %v", e.RPMName, e.Versions)
}

// DeployCollisionError reports two deploy/<selector> children resolving
// to the same owning application path (spec.md §4.5.4).
type DeployCollisionError struct {
	Path string
}

func (e *DeployCollisionError) Error() string {
	return fmt.Sprintf("reconciler: duplicate deploy selectors for %s", e.Path)
}

// RoledHostDeployError reports a host-targeted deploy/<host-id> selector
// found on a host that has a role configured, which spec.md §4.5.4
// forbids.
type RoledHostDeployError struct {
	Path string
}

func (e *RoledHostDeployError) Error() string {
	return fmt.Sprintf("reconciler: host-targeted deploy forbidden on a roled host: %s", e.Path)
}

// Abandoned signals that the cluster entered ALL-STOP while this deploy
// cycle was in flight and no role controller is installed. It aborts the
// cycle with a warning and writes no error property — the fleet is
// already halted (spec.md §4.5.6).
type Abandoned struct{}

func (e *Abandoned) Error() string { return "cluster version is None" }
