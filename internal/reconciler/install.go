package reconciler

import (
	"context"
	"fmt"

	"github.com/zc-zkdeployment/agent/internal/vcs"
)

// installSomething implements spec.md §4.5.7.
func (a *Agent) installSomething(ctx context.Context, rpmName, version string) error {
	installedVersion, err := a.pkg.RPMVersion(ctx, rpmName)
	if err != nil {
		return err
	}
	if installedVersion != "" && installedVersion == version {
		return nil
	}
	if version == vcs.DontCare {
		if a.hostst.OptDirExists(rpmName) {
			return nil
		}
	}

	if scheme, rest, ok := vcs.ParseVersion(version); ok {
		return a.installVCS(ctx, rpmName, scheme, rest, version)
	}
	return a.installPlain(ctx, rpmName, version)
}

func (a *Agent) installVCS(ctx context.Context, rpmName, scheme, rest, fullVersion string) error {
	backend, found := a.vcs.Lookup(scheme)
	if !found {
		return fmt.Errorf("reconciler: no vcs backend registered for scheme %q", scheme)
	}
	optDir := a.hostst.OptDir(rpmName)

	if a.hostst.OptDirExists(rpmName) {
		if !backend.IsUnder(optDir) {
			if err := a.pkg.Remove(ctx, rpmName); err != nil {
				return err
			}
			if err := a.hostst.WipeOptDir(rpmName); err != nil {
				return err
			}
		} else {
			current, err := backend.CurrentVersion(ctx, optDir, scheme)
			if err != nil {
				return err
			}
			if current == rest {
				return nil
			}
			if err := a.hostst.WipeOptDir(rpmName); err != nil {
				return err
			}
		}
	}

	if err := backend.Update(ctx, optDir, scheme, fullVersion); err != nil {
		return fmt.Errorf("vcs update: %w", err)
	}
	return vcs.PostUpdate(ctx, optDir)
}

func (a *Agent) installPlain(ctx context.Context, rpmName, version string) error {
	optDir := a.hostst.OptDir(rpmName)
	if a.hostst.OptDirExists(rpmName) && a.anyVCSUnder(optDir) {
		if err := a.hostst.WipeOptDir(rpmName); err != nil {
			return err
		}
	}
	installVersion := version
	if version == vcs.DontCare {
		installVersion = ""
	}
	return a.pkg.Install(ctx, rpmName, installVersion)
}

// uninstallSomething removes whatever occupies /opt/<rpmName>, whether it
// is a package-manager install or a VCS checkout (the original
// implementation's uninstall_something).
func (a *Agent) uninstallSomething(ctx context.Context, rpmName string) error {
	optDir := a.hostst.OptDir(rpmName)
	if a.anyVCSUnder(optDir) {
		return a.hostst.WipeOptDir(rpmName)
	}
	if err := a.pkg.Remove(ctx, rpmName); err != nil {
		return err
	}
	return a.hostst.WipeOptDir(rpmName)
}

func (a *Agent) anyVCSUnder(optDir string) bool {
	for _, backend := range a.vcs.All() {
		if backend.IsUnder(optDir) {
			return true
		}
	}
	return false
}
