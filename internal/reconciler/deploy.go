package reconciler

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/spf13/afero"
	"go.uber.org/zap"

	"github.com/zc-zkdeployment/agent/internal/hoststate"
	"github.com/zc-zkdeployment/agent/internal/lock"
	"github.com/zc-zkdeployment/agent/internal/zkcoord"
)

// Deploy runs one attempt of the §4.5.2 deploy() algorithm against the
// Agent's current in-memory clusterVersion snapshot.
func (a *Agent) Deploy(ctx context.Context) error {
	if a.clusterVersion.IsAllStop() {
		a.log.Info("ALL STOP")
		return nil
	}

	if err := a.status.ClearError(ctx); err != nil {
		a.log.Warn("failed to clear error property", zap.Error(err))
	}

	if a.clusterVersion.Equal(a.hostVersion) {
		return a.status.Write(a.clusterVersion.String(), "done")
	}

	a.log.Info("deploying", zap.String("version", a.clusterVersion.String()))
	if err := a.status.Write(a.clusterVersion.String(), "deploying"); err != nil {
		a.log.Warn("failed to write status", zap.Error(err))
	}

	err := a.deployBody(ctx)
	if err == nil {
		return nil
	}
	if _, abandoned := err.(*Abandoned); abandoned {
		a.log.Warn("abandoning deployment because cluster version is None")
		return nil
	}
	return a.fail(ctx, err)
}

func (a *Agent) deployBody(ctx context.Context) error {
	a.pkg.BeginCycle()

	if err := a.updateRoleController(ctx); err != nil {
		return err
	}

	deployments, err := a.enumerateDeployments(ctx)
	if err != nil {
		return err
	}
	sortDeployments(deployments)
	_ = a.status.Write(a.clusterVersion.String(), "got deployments")

	deployVersions, err := validateVersions(deployments)
	if err != nil {
		return err
	}

	_ = a.status.Write(a.clusterVersion.String(), "remove old deployments")
	if err := a.removeStaleDeployments(ctx, deployments); err != nil {
		return err
	}

	_ = a.status.Write(a.clusterVersion.String(), "update software")
	if err := a.withRoleLock(ctx, func() error {
		return a.installEverything(ctx, deployVersions, deployments)
	}); err != nil {
		return err
	}

	if err := a.removeObsoleteApplications(ctx, deployVersions, deployments); err != nil {
		return err
	}

	a.hostVersion = a.clusterVersion
	if err := a.persistHostVersion(); err != nil {
		return err
	}
	if err := a.status.SetHostVersion(ctx, a.hostVersion.Raw); err != nil {
		return fmt.Errorf("reconciler: update host node version: %w", err)
	}
	_ = a.status.Write(a.clusterVersion.String(), "done")

	a.runAfterHook(ctx)
	return nil
}

func (a *Agent) removeStaleDeployments(ctx context.Context, deployments []deployment) error {
	installed, err := a.hostst.GetInstalledDeployments()
	if err != nil {
		return err
	}
	desired := desiredDeploymentSet(deployments)

	for _, inst := range installed {
		if err := a.checkAbandon(ctx); err != nil {
			return err
		}
		if desired[deploymentKey(inst.App, inst.Path, inst.N)] {
			continue
		}
		if err := a.hostst.RemoveDeployment(ctx, inst, a.subprocessEnv()); err != nil {
			return fmt.Errorf("reconciler: remove stale deployment %s#%d: %w", inst.Path, inst.N, err)
		}
	}
	return nil
}

func (a *Agent) installEverything(ctx context.Context, deployVersions map[string]string, deployments []deployment) error {
	if err := a.runRoleScript(ctx, "starting-deployments"); err != nil {
		return err
	}

	for _, rpmName := range sortedRPMNames(deployVersions) {
		if err := a.checkAbandon(ctx); err != nil {
			return err
		}
		if err := a.installSomething(ctx, rpmName, deployVersions[rpmName]); err != nil {
			return fmt.Errorf("reconciler: install %s: %w", rpmName, err)
		}
	}

	for _, d := range deployments {
		err := a.withNodeLock(ctx, d.Path, func() error {
			if err := a.checkAbandon(ctx); err != nil {
				return err
			}
			return a.hostst.InstallDeployment(ctx, d.toHostState(), a.subprocessEnv())
		})
		if err != nil {
			if _, abandoned := err.(*Abandoned); !abandoned {
				a.setAllStop(ctx)
			}
			return err
		}
	}

	return a.runRoleScript(ctx, "ending-deployments")
}

func (a *Agent) removeObsoleteApplications(ctx context.Context, deployVersions map[string]string, deployments []deployment) error {
	installedApps, err := a.hostst.GetInstalledApplications()
	if err != nil {
		return err
	}
	for _, rpm := range installedApps {
		if _, wanted := deployVersions[rpm]; wanted {
			continue
		}
		if err := a.uninstallSomething(ctx, rpm); err != nil {
			return fmt.Errorf("reconciler: uninstall %s: %w", rpm, err)
		}
	}

	desiredApps := map[string]bool{}
	for _, d := range deployments {
		desiredApps[d.App] = true
	}
	for _, rpm := range installedApps {
		app := hoststate.AppNameFromRPM(rpm)
		if desiredApps[app] {
			continue
		}
		if err := a.hostst.RemoveApplicationDir(app); err != nil {
			a.log.Error("could not remove application directory, leaving in place", zap.String("app", app), zap.Error(err))
		}
	}
	return nil
}

func (a *Agent) persistHostVersion() error {
	data, err := json.Marshal(a.hostVersion.Raw)
	if err != nil {
		return fmt.Errorf("reconciler: encode host_version: %w", err)
	}
	if err := afero.WriteFile(a.fs, a.hostVersionPath(), data, 0o644); err != nil {
		return fmt.Errorf("reconciler: write host_version: %w", err)
	}
	return nil
}

func (a *Agent) runAfterHook(ctx context.Context) {
	if len(a.after) == 0 {
		return
	}
	if err := runCommand(ctx, a.after[0], a.after[1:], a.subprocessEnv()); err != nil {
		a.log.Error("after-hook failed", zap.Strings("command", a.after), zap.Error(err))
	}
}

// fail implements spec.md §7's fatal-deploy-cycle disposition: ALL-STOP,
// host error property, status=error, failing=true. The after-hook is
// skipped.
func (a *Agent) fail(ctx context.Context, cause error) error {
	a.failing = true
	a.setAllStop(ctx)
	if err := a.status.SetError(ctx, cause.Error()); err != nil {
		a.log.Warn("failed to record error property", zap.Error(err))
	}
	_ = a.status.Write(a.clusterVersion.String(), "error")
	return cause
}

func (a *Agent) setAllStop(ctx context.Context) {
	if err := a.client.SetProperties(hostsPath, zkcoord.Properties{"version": nil}); err != nil {
		a.log.Error("failed to write ALL-STOP", zap.Error(err))
	}
}

// withRoleLock wraps fn in the persistent role lock when a role
// controller is installed; otherwise the lock degrades to a no-op
// (spec.md §4.5.3).
func (a *Agent) withRoleLock(ctx context.Context, fn func() error) error {
	if a.roleController == "" {
		return fn()
	}
	rl, err := lock.AcquireRoleLock(ctx, a.client, a.role, a.hostID, a.hostname)
	if err != nil {
		return fmt.Errorf("reconciler: acquire role lock: %w", err)
	}
	if err := fn(); err != nil {
		rl.Abandon()
		return err
	}
	if err := rl.Succeed(); err != nil {
		return fmt.Errorf("reconciler: release role lock: %w", err)
	}
	return nil
}

// withNodeLock wraps fn in a per-deployment ephemeral lock when no role
// controller is installed; otherwise the lock degrades to a no-op
// (spec.md §4.5.3).
func (a *Agent) withNodeLock(ctx context.Context, zkPath string, fn func() error) error {
	if a.roleController != "" {
		return fn()
	}
	nl, err := lock.AcquireNodeLock(ctx, a.client, zkPath)
	if err != nil {
		return fmt.Errorf("reconciler: acquire node lock for %s: %w", zkPath, err)
	}
	defer nl.Release()
	return fn()
}

// checkAbandon implements spec.md §4.5.6: it re-reads cluster_version
// fresh (not from the cached snapshot) because it must observe a
// concurrent ALL-STOP write from another host.
func (a *Agent) checkAbandon(ctx context.Context) error {
	if a.roleController != "" {
		return nil
	}
	props, err := a.client.GetProperties(hostsPath)
	if err != nil {
		return fmt.Errorf("reconciler: re-read %s: %w", hostsPath, err)
	}
	if zkcoord.NewClusterVersion(props).IsAllStop() {
		return &Abandoned{}
	}
	return nil
}
