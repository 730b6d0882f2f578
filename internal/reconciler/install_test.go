package reconciler

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/zc-zkdeployment/agent/internal/hoststate"
	"github.com/zc-zkdeployment/agent/internal/pkgmanager"
	"github.com/zc-zkdeployment/agent/internal/vcs"
)

// fakeRunner simulates yum: install, downgrade and remove update an
// in-memory table of installed versions, which list installed reports.
type fakeRunner struct {
	installed map[string]string
}

func (f *fakeRunner) Run(_ context.Context, name string, args ...string) (string, error) {
	if name != "yum" {
		return "", nil
	}
	switch {
	case len(args) >= 4 && args[0] == "-q" && args[1] == "list" && args[2] == "installed":
		rpm := args[3]
		if v, ok := f.installed[rpm]; ok {
			return rpm + ".x86_64    " + v + "-1    repo\n", nil
		}
		return "", nil
	case len(args) >= 3 && args[0] == "-y" && (args[1] == "install" || args[1] == "downgrade"):
		rpm, ver := splitRPMSpec(args[2])
		f.installed[rpm] = ver
	case len(args) >= 3 && args[0] == "-y" && args[1] == "remove":
		delete(f.installed, args[2])
	}
	return "", nil
}

func splitRPMSpec(spec string) (rpm, version string) {
	idx := -1
	for i := len(spec) - 1; i >= 0; i-- {
		if spec[i] == '-' {
			idx = i
			break
		}
	}
	if idx < 0 {
		return spec, ""
	}
	return spec[:idx], spec[idx+1:]
}

type fakeBackend struct {
	under   bool
	current string
	updated string
}

func (b *fakeBackend) IsUnder(string) bool { return b.under }
func (b *fakeBackend) CurrentVersion(context.Context, string, string) (string, error) {
	return b.current, nil
}
func (b *fakeBackend) Update(_ context.Context, path string, _ string, version string) error {
	if err := os.MkdirAll(path, 0o755); err != nil {
		return err
	}
	b.updated = version
	b.under = true
	return nil
}

func newTestAgent(t *testing.T, registry *vcs.Registry, runner pkgmanager.Runner) (*Agent, string) {
	t.Helper()
	base := t.TempDir()
	a := &Agent{
		fs:     afero.NewOsFs(),
		hostst: hoststate.New(afero.NewOsFs(), base),
		vcs:    registry,
		pkg:    pkgmanager.NewWithRunner(runner),
		log:    zap.NewNop(),
	}
	return a, base
}

func TestInstallSomethingPlainFreshInstall(t *testing.T) {
	runner := &fakeRunner{installed: map[string]string{}}
	a, _ := newTestAgent(t, vcs.NewRegistry(), runner)

	require.NoError(t, a.installSomething(context.Background(), "widget", "1.0.0"))
}

func TestInstallSomethingAlreadyCorrectIsNoop(t *testing.T) {
	runner := &fakeRunner{installed: map[string]string{"widget": "1.0.0"}}
	a, _ := newTestAgent(t, vcs.NewRegistry(), runner)

	require.NoError(t, a.installSomething(context.Background(), "widget", "1.0.0"))
}

func TestInstallSomethingDontCareAlreadyPresent(t *testing.T) {
	runner := &fakeRunner{installed: map[string]string{}}
	a, base := newTestAgent(t, vcs.NewRegistry(), runner)

	require.NoError(t, os.MkdirAll(filepath.Join(base, "opt", "widget"), 0o755))
	require.NoError(t, a.installSomething(context.Background(), "widget", vcs.DontCare))
}

func TestInstallSomethingVCSFreshCheckout(t *testing.T) {
	backend := &fakeBackend{}
	reg := vcs.NewRegistry()
	reg.Register("fake", backend)
	runner := &fakeRunner{installed: map[string]string{}}
	a, _ := newTestAgent(t, reg, runner)

	require.NoError(t, a.installSomething(context.Background(), "widget", "fake://repo#main"))
	assert.Equal(t, "fake://repo#main", backend.updated)
}

func TestInstallSomethingVCSSwitchWipesMismatchedCheckout(t *testing.T) {
	backend := &fakeBackend{under: true, current: "//repo#trunk"}
	reg := vcs.NewRegistry()
	reg.Register("fake", backend)
	runner := &fakeRunner{installed: map[string]string{}}
	a, base := newTestAgent(t, reg, runner)

	require.NoError(t, os.MkdirAll(filepath.Join(base, "opt", "widget"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(base, "opt", "widget", "marker"), []byte("x"), 0o644))

	require.NoError(t, a.installSomething(context.Background(), "widget", "fake://repo#branches/x"))
	assert.Equal(t, "fake://repo#branches/x", backend.updated)

	_, err := os.Stat(filepath.Join(base, "opt", "widget", "marker"))
	assert.True(t, os.IsNotExist(err), "the stale checkout contents must be wiped before the switch")
}

func TestUninstallSomethingVCSWipesWithoutPackageManager(t *testing.T) {
	backend := &fakeBackend{under: true}
	reg := vcs.NewRegistry()
	reg.Register("fake", backend)
	runner := &fakeRunner{installed: map[string]string{}}
	a, base := newTestAgent(t, reg, runner)

	require.NoError(t, os.MkdirAll(filepath.Join(base, "opt", "widget"), 0o755))
	require.NoError(t, a.uninstallSomething(context.Background(), "widget"))

	_, err := os.Stat(filepath.Join(base, "opt", "widget"))
	assert.True(t, os.IsNotExist(err))
}
