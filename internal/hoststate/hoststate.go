// Package hoststate reads and writes the local /opt and /etc tree that
// records which deployments are currently materialised on this host
// (spec.md §4.3, component C3). All filesystem access goes through an
// afero.Fs so tests can exercise the exact directory-marker logic with an
// in-memory filesystem instead of touching the real /opt and /etc.
package hoststate

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path"
	"sort"
	"strconv"
	"strings"

	"github.com/spf13/afero"
)

const (
	installerName           = "zookeeper-deploy"
	roleControllerStartName = "starting-deployments"
)

// Deployment is one (app, rpm, coordination-path, replica-index) tuple, as
// either desired (computed by the reconciler) or discovered on disk.
type Deployment struct {
	App     string
	Subtype string
	RPMName string
	Path    string
	N       int
}

// markerKey identifies a deployment's on-disk markers independent of which
// rpm produced them.
func (d Deployment) markerKey() string {
	return fmt.Sprintf("%s.%d", PathToFlatName(d.Path), d.N)
}

// State roots every /opt and /etc lookup under a base directory — "" for
// the real filesystem root, or TEST_ROOT's value in tests (spec.md §6).
type State struct {
	fs   afero.Fs
	base string
}

// New returns a State rooted at base ("" meaning the real filesystem root)
// using fs for all I/O.
func New(fs afero.Fs, base string) *State {
	if base == "" {
		base = "/"
	}
	return &State{fs: fs, base: base}
}

func (s *State) optDir(rpmName string) string {
	return path.Join(s.base, "opt", rpmName)
}

// OptDir returns the real filesystem path /opt/<rpmName> (or its
// TEST_ROOT-rooted equivalent). A package-manager install, a VCS
// checkout, and a role controller all live directly under this path.
func (s *State) OptDir(rpmName string) string {
	return s.optDir(rpmName)
}

// OptDirExists reports whether anything is installed under OptDir(rpmName)
// at all, regardless of which backend put it there.
func (s *State) OptDirExists(rpmName string) bool {
	return s.exists(s.optDir(rpmName))
}

// WipeOptDir recursively deletes /opt/<rpmName>, the moral equivalent of
// the original implementation's shutil.rmtree(self._path('opt', rpm_name)).
func (s *State) WipeOptDir(rpmName string) error {
	if err := s.fs.RemoveAll(s.optDir(rpmName)); err != nil {
		return fmt.Errorf("hoststate: wipe %s: %w", s.optDir(rpmName), err)
	}
	return nil
}

func (s *State) etcDir(app string) string {
	return path.Join(s.base, "etc", app)
}

func (s *State) installerPath(rpmName string) string {
	return path.Join(s.optDir(rpmName), "bin", installerName)
}

func (s *State) roleStartPath(rpmName string) string {
	return path.Join(s.optDir(rpmName), "bin", roleControllerStartName)
}

// PathToFlatName implements <flat-path> = path[1:] with "/" replaced by ",".
func PathToFlatName(zkPath string) string {
	return strings.ReplaceAll(strings.TrimPrefix(zkPath, "/"), "/", ",")
}

// FlatNameToPath is the inverse of PathToFlatName.
func FlatNameToPath(flat string) string {
	return "/" + strings.ReplaceAll(flat, ",", "/")
}

// AppNameFromRPM strips a trailing "-<version>" suffix from an rpm
// directory name to recover the logical application name, matching
// S3's "z4m-4.0.0" installed dir -> app "z4m".
func AppNameFromRPM(rpmName string) string {
	return appNameFromRPM(rpmName)
}

func appNameFromRPM(rpmName string) string {
	idx := strings.LastIndex(rpmName, "-")
	if idx <= 0 || idx == len(rpmName)-1 {
		return rpmName
	}
	version := rpmName[idx+1:]
	if !looksLikeVersion(version) {
		return rpmName
	}
	return rpmName[:idx]
}

func looksLikeVersion(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if !(r >= '0' && r <= '9') && r != '.' {
			return false
		}
	}
	return true
}

func (s *State) exists(p string) bool {
	ok, err := afero.Exists(s.fs, p)
	return err == nil && ok
}

// GetInstalledApplications returns the set of rpm-names currently
// installed as application backends (their bin/zookeeper-deploy exists).
func (s *State) GetInstalledApplications() ([]string, error) {
	entries, err := afero.ReadDir(s.fs, path.Join(s.base, "opt"))
	if err != nil {
		if isNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("hoststate: list /opt: %w", err)
	}
	var rpms []string
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		if s.exists(s.installerPath(e.Name())) {
			rpms = append(rpms, e.Name())
		}
	}
	sort.Strings(rpms)
	return rpms, nil
}

// GetInstalledRoleController returns the unique rpm-name whose
// bin/starting-deployments exists, or "" if none is installed. More than
// one installed role controller is a configuration error.
func (s *State) GetInstalledRoleController() (string, error) {
	entries, err := afero.ReadDir(s.fs, path.Join(s.base, "opt"))
	if err != nil {
		if isNotExist(err) {
			return "", nil
		}
		return "", fmt.Errorf("hoststate: list /opt: %w", err)
	}
	found := ""
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		if s.exists(s.roleStartPath(e.Name())) {
			if found != "" {
				return "", &MultipleRoleControllersError{First: found, Second: e.Name()}
			}
			found = e.Name()
		}
	}
	return found, nil
}

// MultipleRoleControllersError reports that more than one installed
// package looks like a role controller, which spec.md §4.3 calls fatal.
type MultipleRoleControllersError struct {
	First, Second string
}

func (e *MultipleRoleControllersError) Error() string {
	return fmt.Sprintf("hoststate: more than one role controller installed: %s, %s", e.First, e.Second)
}

// GetInstalledDeployments walks /opt/*/bin/zookeeper-deploy to find
// installed apps, then /etc/<app>/*.deployed markers whose companion
// .script marker matches that app's current installer. A mismatched
// .script belongs to a prior, superseded rpm and is silently skipped.
func (s *State) GetInstalledDeployments() ([]Deployment, error) {
	rpms, err := s.GetInstalledApplications()
	if err != nil {
		return nil, err
	}

	type installer struct {
		rpmName string
		script  string
	}
	byApp := map[string]installer{}
	for _, rpm := range rpms {
		app := appNameFromRPM(rpm)
		byApp[app] = installer{rpmName: rpm, script: s.installerPath(rpm)}
	}

	var out []Deployment
	for app, inst := range byApp {
		entries, err := afero.ReadDir(s.fs, s.etcDir(app))
		if err != nil {
			if isNotExist(err) {
				continue
			}
			return nil, fmt.Errorf("hoststate: list /etc/%s: %w", app, err)
		}
		for _, e := range entries {
			if e.IsDir() || !strings.HasSuffix(e.Name(), ".deployed") {
				continue
			}
			key := strings.TrimSuffix(e.Name(), ".deployed")
			flat, nStr, ok := cutLastDot(key)
			if !ok {
				continue
			}
			n, err := strconv.Atoi(nStr)
			if err != nil {
				continue
			}
			scriptPath := path.Join(s.etcDir(app), key+".script")
			content, err := afero.ReadFile(s.fs, scriptPath)
			if err != nil {
				continue // orphan .deployed with no .script: not deployed
			}
			if strings.TrimSpace(string(content)) != inst.script {
				continue // belongs to a superseded rpm
			}
			out = append(out, Deployment{
				App:     app,
				RPMName: inst.rpmName,
				Path:    FlatNameToPath(flat),
				N:       n,
			})
		}
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].Path != out[j].Path {
			return out[i].Path < out[j].Path
		}
		return out[i].N < out[j].N
	})
	return out, nil
}

func cutLastDot(s string) (before, after string, ok bool) {
	idx := strings.LastIndex(s, ".")
	if idx < 0 {
		return "", "", false
	}
	return s[:idx], s[idx+1:], true
}

// InstallDeployment runs the rpm's installer to bring d into existence,
// then writes the .deployed/.script markers that record it.
func (s *State) InstallDeployment(ctx context.Context, d Deployment, extraEnv []string) error {
	script := s.installerPath(d.RPMName)
	args := []string{}
	if d.Subtype != "" {
		args = append(args, "-r", d.Subtype)
	}
	args = append(args, d.Path, strconv.Itoa(d.N))

	if err := runInstaller(ctx, script, args, extraEnv); err != nil {
		return fmt.Errorf("hoststate: install deployment %s#%d: %w", d.Path, d.N, err)
	}
	return s.writeMarkers(d, script)
}

// RemoveDeployment runs the installer's uninstall mode for d, then deletes
// its markers.
func (s *State) RemoveDeployment(ctx context.Context, d Deployment, extraEnv []string) error {
	script := s.installerPath(d.RPMName)
	args := []string{"-u", d.Path, strconv.Itoa(d.N)}
	if err := runInstaller(ctx, script, args, extraEnv); err != nil {
		return fmt.Errorf("hoststate: remove deployment %s#%d: %w", d.Path, d.N, err)
	}
	return s.deleteMarkers(d)
}

func (s *State) writeMarkers(d Deployment, script string) error {
	dir := s.etcDir(d.App)
	if err := s.fs.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("hoststate: mkdir %s: %w", dir, err)
	}
	key := d.markerKey()
	if err := afero.WriteFile(s.fs, path.Join(dir, key+".script"), []byte(script), 0o644); err != nil {
		return fmt.Errorf("hoststate: write .script marker: %w", err)
	}
	if err := afero.WriteFile(s.fs, path.Join(dir, key+".deployed"), nil, 0o644); err != nil {
		return fmt.Errorf("hoststate: write .deployed marker: %w", err)
	}
	return nil
}

func (s *State) deleteMarkers(d Deployment) error {
	dir := s.etcDir(d.App)
	key := d.markerKey()
	_ = s.fs.Remove(path.Join(dir, key+".script"))
	_ = s.fs.Remove(path.Join(dir, key+".deployed"))
	return nil
}

// RemoveApplicationDir removes /etc/<app> if empty, per spec.md §4.5.2's
// "rmdir /etc/<app>, may be non-empty -> log error, continue". Callers are
// expected to log a non-nil error rather than treat it as cycle-fatal.
func (s *State) RemoveApplicationDir(app string) error {
	dir := s.etcDir(app)
	entries, err := afero.ReadDir(s.fs, dir)
	if err != nil {
		if isNotExist(err) {
			return nil
		}
		return err
	}
	if len(entries) > 0 {
		return fmt.Errorf("hoststate: /etc/%s is not empty", app)
	}
	return s.fs.Remove(dir)
}

func isNotExist(err error) bool {
	return os.IsNotExist(err) || errors.Is(err, os.ErrNotExist) || strings.Contains(err.Error(), "file does not exist")
}

var runInstaller = func(ctx context.Context, script string, args []string, extraEnv []string) error {
	cmd := exec.CommandContext(ctx, script, args...)
	if len(extraEnv) > 0 {
		cmd.Env = append(os.Environ(), extraEnv...)
	}
	out, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("%s %v: %w: %s", script, args, err, out)
	}
	return nil
}
