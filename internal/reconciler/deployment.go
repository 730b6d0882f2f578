package reconciler

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/zc-zkdeployment/agent/internal/hoststate"
)

// enumerateTimeout bounds the whole coordination-tree walk of one
// enumeration, so a hung read fails the cycle instead of stalling it.
const enumerateTimeout = 99 * time.Second

// deployment is the coordination-tree "deployment record" of spec.md §3:
// (app, subtype?, version, rpm_name, path, n_index).
type deployment struct {
	App     string
	Subtype string
	Version string
	RPMName string
	Path    string
	N       int
}

func (d deployment) toHostState() hoststate.Deployment {
	return hoststate.Deployment{App: d.App, Subtype: d.Subtype, RPMName: d.RPMName, Path: d.Path, N: d.N}
}

func deploymentKey(app, path string, n int) string {
	return fmt.Sprintf("%s\x00%s\x00%d", app, path, n)
}

// enumerateDeployments walks the whole coordination tree looking for
// "<owner>/deploy/<selector>" paths whose selector names this host
// (by host-id or fqdn) or its configured role, per spec.md §4.5.4.
func (a *Agent) enumerateDeployments(ctx context.Context) ([]deployment, error) {
	var out []deployment
	seenOwners := map[string]bool{}

	ctx, cancel := context.WithTimeout(ctx, enumerateTimeout)
	defer cancel()

	err := a.client.Walk(ctx, "/", func(p string) error {
		owner, selector, ok := splitDeploySelector(p)
		if !ok {
			return nil
		}

		matches := selector == a.hostID || selector == a.hostname || (a.role != "" && selector == a.role)
		if !matches {
			return nil
		}
		if a.role != "" && selector == a.hostID {
			return &RoledHostDeployError{Path: p}
		}
		if seenOwners[owner] {
			return &DeployCollisionError{Path: owner}
		}
		seenOwners[owner] = true

		ds, err := a.deploymentsForOwner(ctx, owner)
		if err != nil {
			return err
		}
		out = append(out, ds...)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func splitDeploySelector(p string) (owner, selector string, ok bool) {
	const marker = "/deploy/"
	idx := strings.LastIndex(p, marker)
	if idx < 0 {
		return "", "", false
	}
	return p[:idx], p[idx+len(marker):], true
}

func (a *Agent) deploymentsForOwner(ctx context.Context, owner string) ([]deployment, error) {
	props, err := a.client.GetProperties(owner)
	if err != nil {
		return nil, fmt.Errorf("reconciler: read properties of %s: %w", owner, err)
	}

	typ, _ := props["type"].(string)
	fields := strings.Fields(typ)
	if len(fields) == 0 {
		return nil, fmt.Errorf("reconciler: %s has no usable \"type\" property", owner)
	}
	app := fields[0]
	subtype := ""
	if len(fields) > 1 {
		subtype = fields[1]
	}

	rpmName := app
	version, hasVersion := props["version"].(string)
	if !hasVersion {
		base, ver, ok := splitVersionSuffix(app)
		if !ok {
			return nil, fmt.Errorf("reconciler: %s has no version and app name %q carries no version suffix", owner, app)
		}
		app = base
		rpmName = fields[0]
		version = "DONT_CARE"
		_ = ver
	}

	n := 1
	if raw, ok := props["n"]; ok {
		if f, ok := raw.(float64); ok {
			n = int(f)
		}
	}

	ds := make([]deployment, 0, n)
	for i := 0; i < n; i++ {
		ds = append(ds, deployment{
			App:     app,
			Subtype: subtype,
			Version: version,
			RPMName: rpmName,
			Path:    owner,
			N:       i,
		})
	}
	return ds, nil
}

// splitVersionSuffix splits an app name of the form "<base>-<N.N.N>" into
// its base and version, per spec.md §4.5.4's implicit-version rule.
func splitVersionSuffix(app string) (base, version string, ok bool) {
	idx := strings.LastIndex(app, "-")
	if idx <= 0 || idx == len(app)-1 {
		return "", "", false
	}
	version = app[idx+1:]
	for _, r := range version {
		if !(r >= '0' && r <= '9') && r != '.' {
			return "", "", false
		}
	}
	return app[:idx], version, true
}

// validateVersions checks spec.md §4.5.5: across all deployments sharing
// an rpm-name, every version must agree. It returns the one version
// demanded per rpm-name.
func validateVersions(deployments []deployment) (map[string]string, error) {
	out := map[string]string{}
	seen := map[string][]string{}
	for _, d := range deployments {
		if existing, ok := out[d.RPMName]; ok {
			if existing != d.Version {
				seen[d.RPMName] = append(seen[d.RPMName], d.Version)
				return nil, &VersionConflictError{RPMName: d.RPMName, Versions: append([]string{existing}, seen[d.RPMName]...)}
			}
			continue
		}
		out[d.RPMName] = d.Version
	}
	return out, nil
}

func sortDeployments(ds []deployment) {
	sort.Slice(ds, func(i, j int) bool {
		if ds[i].Path != ds[j].Path {
			return ds[i].Path < ds[j].Path
		}
		return ds[i].N < ds[j].N
	})
}

func sortedRPMNames(versions map[string]string) []string {
	names := make([]string, 0, len(versions))
	for name := range versions {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func desiredDeploymentSet(ds []deployment) map[string]bool {
	set := make(map[string]bool, len(ds))
	for _, d := range ds {
		set[deploymentKey(d.App, d.Path, d.N)] = true
	}
	return set
}
