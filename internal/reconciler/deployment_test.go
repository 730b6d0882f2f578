package reconciler

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSplitDeploySelector(t *testing.T) {
	owner, selector, ok := splitDeploySelector("/cust/app/deploy/424242424242")
	require.True(t, ok)
	assert.Equal(t, "/cust/app", owner)
	assert.Equal(t, "424242424242", selector)

	_, _, ok = splitDeploySelector("/cust/app")
	assert.False(t, ok)
}

func TestSplitVersionSuffix(t *testing.T) {
	base, version, ok := splitVersionSuffix("z4m-4.0.0")
	require.True(t, ok)
	assert.Equal(t, "z4m", base)
	assert.Equal(t, "4.0.0", version)

	_, _, ok = splitVersionSuffix("z4m")
	assert.False(t, ok)

	_, _, ok = splitVersionSuffix("my-role-rc")
	assert.False(t, ok, "a non-numeric trailing segment is not a version")
}

func TestValidateVersionsAgree(t *testing.T) {
	ds := []deployment{
		{RPMName: "z4m", Version: "1.0.0", Path: "/a", N: 0},
		{RPMName: "z4m", Version: "1.0.0", Path: "/b", N: 0},
		{RPMName: "other", Version: "2.0.0", Path: "/c", N: 0},
	}
	versions, err := validateVersions(ds)
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"z4m": "1.0.0", "other": "2.0.0"}, versions)
}

func TestValidateVersionsConflict(t *testing.T) {
	ds := []deployment{
		{RPMName: "z4m", Version: "1.0.0", Path: "/a", N: 0},
		{RPMName: "z4m", Version: "2.0.0", Path: "/b", N: 0},
	}
	_, err := validateVersions(ds)
	var conflict *VersionConflictError
	require.ErrorAs(t, err, &conflict)
	assert.Equal(t, "z4m", conflict.RPMName)
}

func TestDesiredDeploymentSet(t *testing.T) {
	ds := []deployment{{App: "z4m", Path: "/cust/app", N: 0}}
	set := desiredDeploymentSet(ds)
	assert.True(t, set[deploymentKey("z4m", "/cust/app", 0)])
	assert.False(t, set[deploymentKey("z4m", "/cust/app", 1)])
}
