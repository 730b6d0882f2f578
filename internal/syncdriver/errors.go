package syncdriver

import "fmt"

// RefusalError reports one of the §4.6 refusal conditions: the prior
// cluster version is ALL-STOP, or a host has not converged, and --force
// was not given to override either check.
type RefusalError struct {
	Reason string
}

func (e *RefusalError) Error() string { return fmt.Sprintf("syncdriver: refusing sync: %s", e.Reason) }

// LockedError reports that the cluster-level /hosts-lock, or the local
// at-most-one-driver file lock, is already held.
type LockedError struct {
	Reason string
}

func (e *LockedError) Error() string { return fmt.Sprintf("syncdriver: %s", e.Reason) }
