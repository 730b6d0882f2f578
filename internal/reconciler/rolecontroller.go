package reconciler

import (
	"context"
	"fmt"

	"github.com/zc-zkdeployment/agent/internal/hoststate"
)

// updateRoleController implements spec.md §4.5.3: it compares the
// desired (type, version) from /roles/<role> to whatever role controller
// is currently installed, and converges. a.roleController ends up holding
// the installed controller's rpm-name, or "" if none.
func (a *Agent) updateRoleController(ctx context.Context) error {
	installedRC, err := a.hostst.GetInstalledRoleController()
	if err != nil {
		return fmt.Errorf("reconciler: check installed role controller: %w", err)
	}

	if a.role == "" {
		if installedRC != "" {
			if err := a.uninstallSomething(ctx, installedRC); err != nil {
				return fmt.Errorf("reconciler: uninstall stale role controller %s: %w", installedRC, err)
			}
		}
		a.roleController = ""
		return nil
	}

	desiredType, desiredVersion, configured, err := a.desiredRoleController(ctx)
	if err != nil {
		return err
	}
	if !configured {
		if installedRC != "" {
			if err := a.uninstallSomething(ctx, installedRC); err != nil {
				return fmt.Errorf("reconciler: uninstall role controller %s: %w", installedRC, err)
			}
		}
		a.roleController = ""
		return nil
	}

	if installedRC != "" && hoststate.AppNameFromRPM(installedRC) != desiredType {
		if err := a.uninstallSomething(ctx, installedRC); err != nil {
			return fmt.Errorf("reconciler: uninstall superseded role controller %s: %w", installedRC, err)
		}
	}
	if err := a.installSomething(ctx, desiredType, desiredVersion); err != nil {
		return fmt.Errorf("reconciler: install role controller %s: %w", desiredType, err)
	}
	a.roleController = desiredType
	return nil
}

func (a *Agent) desiredRoleController(ctx context.Context) (typ, version string, configured bool, err error) {
	path := "/roles/" + a.role
	exists, err := a.client.Exists(path)
	if err != nil {
		return "", "", false, fmt.Errorf("reconciler: check %s: %w", path, err)
	}
	if !exists {
		return "", "", false, nil
	}
	props, err := a.client.GetProperties(path)
	if err != nil {
		return "", "", false, fmt.Errorf("reconciler: read %s: %w", path, err)
	}
	typ, _ = props["type"].(string)
	version, _ = props["version"].(string)
	if typ == "" {
		return "", "", false, nil
	}
	return typ, version, true, nil
}

// runRoleScript invokes the installed role controller's starting- or
// ending-deployments script with /roles/<role> as its sole argument.
// Its exit code is fatal (spec.md §4.5.3).
func (a *Agent) runRoleScript(ctx context.Context, script string) error {
	if a.roleController == "" {
		return nil
	}
	path := a.hostst.OptDir(a.roleController) + "/bin/" + script
	if err := runCommand(ctx, path, []string{"/roles/" + a.role}, a.subprocessEnv()); err != nil {
		return fmt.Errorf("reconciler: role script %s: %w", script, err)
	}
	return nil
}
