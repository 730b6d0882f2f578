package hoststate

import (
	"context"
	"path"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPathToFlatNameRoundTrip(t *testing.T) {
	assert.Equal(t, "cust,app", PathToFlatName("/cust/app"))
	assert.Equal(t, "/cust/app", FlatNameToPath("cust,app"))
}

func TestAppNameFromRPM(t *testing.T) {
	assert.Equal(t, "z4m", appNameFromRPM("z4m"))
	assert.Equal(t, "z4m", appNameFromRPM("z4m-4.0.0"))
	assert.Equal(t, "my-0-0-rc", appNameFromRPM("my-0-0-rc-1.0.0"))
}

func newFakeInstall(t *testing.T, fs afero.Fs, base, rpm string) {
	t.Helper()
	require.NoError(t, fs.MkdirAll(path.Join("/", base, "opt", rpm, "bin"), 0o755))
	require.NoError(t, afero.WriteFile(fs, path.Join("/", base, "opt", rpm, "bin", installerName), []byte("#!/bin/sh\n"), 0o755))
}

func TestGetInstalledApplications(t *testing.T) {
	fs := afero.NewMemMapFs()
	newFakeInstall(t, fs, "", "z4m")
	require.NoError(t, fs.MkdirAll("/opt/not-an-app", 0o755))

	s := New(fs, "")
	apps, err := s.GetInstalledApplications()
	require.NoError(t, err)
	assert.Equal(t, []string{"z4m"}, apps)
}

func TestGetInstalledRoleControllerConflict(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, fs.MkdirAll("/opt/rc-a/bin", 0o755))
	require.NoError(t, afero.WriteFile(fs, "/opt/rc-a/bin/starting-deployments", nil, 0o755))
	require.NoError(t, fs.MkdirAll("/opt/rc-b/bin", 0o755))
	require.NoError(t, afero.WriteFile(fs, "/opt/rc-b/bin/starting-deployments", nil, 0o755))

	s := New(fs, "")
	_, err := s.GetInstalledRoleController()
	var conflict *MultipleRoleControllersError
	require.ErrorAs(t, err, &conflict)
}

func TestGetInstalledDeploymentsSkipsMismatchedScript(t *testing.T) {
	fs := afero.NewMemMapFs()
	newFakeInstall(t, fs, "", "z4m")
	s := New(fs, "")

	require.NoError(t, fs.MkdirAll("/etc/z4m", 0o755))
	require.NoError(t, afero.WriteFile(fs, "/etc/z4m/cust,app.0.deployed", nil, 0o644))
	require.NoError(t, afero.WriteFile(fs, "/etc/z4m/cust,app.0.script", []byte("/opt/z4m-old/bin/zookeeper-deploy"), 0o644))

	require.NoError(t, afero.WriteFile(fs, "/etc/z4m/cust,app2.0.deployed", nil, 0o644))
	require.NoError(t, afero.WriteFile(fs, "/etc/z4m/cust,app2.0.script", []byte("/opt/z4m/bin/zookeeper-deploy"), 0o644))

	deployments, err := s.GetInstalledDeployments()
	require.NoError(t, err)
	require.Len(t, deployments, 1)
	assert.Equal(t, "/cust/app2", deployments[0].Path)
	assert.Equal(t, "z4m", deployments[0].RPMName)
}

func TestInstallAndRemoveDeploymentWritesAndClearsMarkers(t *testing.T) {
	fs := afero.NewMemMapFs()
	newFakeInstall(t, fs, "", "z4m")
	s := New(fs, "")

	orig := runInstaller
	defer func() { runInstaller = orig }()
	var ranArgs []string
	runInstaller = func(_ context.Context, script string, args []string, _ []string) error {
		ranArgs = args
		return nil
	}

	d := Deployment{App: "z4m", RPMName: "z4m", Path: "/cust/app", N: 0}
	require.NoError(t, s.InstallDeployment(context.Background(), d, nil))
	assert.Equal(t, []string{"/cust/app", "0"}, ranArgs)

	deployed, err := afero.Exists(fs, "/etc/z4m/cust,app.0.deployed")
	require.NoError(t, err)
	assert.True(t, deployed)

	require.NoError(t, s.RemoveDeployment(context.Background(), d, nil))
	deployed, err = afero.Exists(fs, "/etc/z4m/cust,app.0.deployed")
	require.NoError(t, err)
	assert.False(t, deployed)
}
