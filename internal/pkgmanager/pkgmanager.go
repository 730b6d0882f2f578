// Package pkgmanager drives the system package manager (yum) the way
// spec.md §4.2 describes: a clean-all before the first install of a
// reconcile cycle, and a downgrade retry when yum reports a version other
// than the one requested (the "yum lies" workaround SPEC_FULL.md carries
// forward from _examples/original_source/.../agent.py's deploy()).
package pkgmanager

import (
	"context"
	"fmt"
	"strings"
)

// InstallError reports that, even after a downgrade retry, the installed
// version still disagrees with what was demanded.
type InstallError struct {
	RPMName  string
	Demanded string
	Got      string
}

func (e *InstallError) Error() string {
	return fmt.Sprintf("pkgmanager: failed to install %s (demanded %s, got %q)", e.RPMName, e.Demanded, e.Got)
}

// Runner executes a single command and returns its combined output. It
// exists so tests can observe exactly which commands a reconcile cycle
// issues (in particular, the "clean all runs exactly once per cycle"
// property spec.md §8 calls out) without a real yum on the test host.
type Runner interface {
	Run(ctx context.Context, name string, args ...string) (output string, err error)
}

// Manager is the package backend for one host. It is not safe for
// concurrent use, which is fine: spec.md §5 guarantees at most one deploy
// cycle runs at a time.
type Manager struct {
	runner    Runner
	cleanDone bool
}

// New returns a Manager that runs real commands via os/exec.
func New() *Manager {
	return &Manager{runner: execRunner{}}
}

// NewWithRunner returns a Manager driven by an arbitrary Runner, for tests.
func NewWithRunner(r Runner) *Manager {
	return &Manager{runner: r}
}

// BeginCycle resets the "clean all already ran" bookkeeping. The
// reconciler calls this once at the top of every deploy().
func (m *Manager) BeginCycle() {
	m.cleanDone = false
}

// RPMVersion returns the installed version of rpmName, or "" if it is not
// installed (including the case where `yum` itself fails to run, which the
// original treats identically to "not installed").
func (m *Manager) RPMVersion(ctx context.Context, rpmName string) (string, error) {
	out, err := m.runner.Run(ctx, "yum", "-q", "list", "installed", rpmName)
	if err != nil {
		return "", nil
	}
	for _, line := range strings.Split(out, "\n") {
		fields := strings.Fields(line)
		if len(fields) < 2 {
			continue
		}
		if fields[0] != rpmName && !strings.HasPrefix(fields[0], rpmName+".") {
			continue
		}
		versionRelease := fields[1]
		version, _, _ := strings.Cut(versionRelease, "-")
		return version, nil
	}
	return "", nil
}

// Install installs rpmName at version (version == "" means "any version is
// fine", used for role-controller/app installs that pass an explicit
// version string themselves; callers resolve the DONT_CARE sentinel before
// reaching here). It runs `clean all` at most once per cycle, and retries
// once via `downgrade` if yum installs the wrong version.
func (m *Manager) Install(ctx context.Context, rpmName, version string) error {
	spec := rpmName
	if version != "" {
		spec = rpmName + "-" + version
	}

	if !m.cleanDone {
		if _, err := m.runner.Run(ctx, "yum", "-y", "clean", "all"); err != nil {
			return fmt.Errorf("pkgmanager: clean all: %w", err)
		}
		m.cleanDone = true
	}

	if _, err := m.runner.Run(ctx, "yum", "-y", "install", spec); err != nil {
		return fmt.Errorf("pkgmanager: install %s: %w", spec, err)
	}

	if version == "" {
		return nil
	}

	got, err := m.RPMVersion(ctx, rpmName)
	if err != nil {
		return err
	}
	if got == version {
		return nil
	}

	if _, err := m.runner.Run(ctx, "yum", "-y", "downgrade", spec); err != nil {
		return fmt.Errorf("pkgmanager: downgrade %s: %w", spec, err)
	}
	got, err = m.RPMVersion(ctx, rpmName)
	if err != nil {
		return err
	}
	if got != version {
		return &InstallError{RPMName: rpmName, Demanded: version, Got: got}
	}
	return nil
}

// Remove uninstalls rpmName.
func (m *Manager) Remove(ctx context.Context, rpmName string) error {
	if _, err := m.runner.Run(ctx, "yum", "-y", "remove", rpmName); err != nil {
		return fmt.Errorf("pkgmanager: remove %s: %w", rpmName, err)
	}
	return nil
}
