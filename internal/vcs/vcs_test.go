package vcs

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseVersion(t *testing.T) {
	scheme, rest, ok := ParseVersion("git://example.com/repo#main")
	require.True(t, ok)
	assert.Equal(t, "git", scheme)
	assert.Equal(t, "//example.com/repo#main", rest)

	scheme, rest, ok = ParseVersion("svn:https://svn.example.com/repo/trunk")
	require.True(t, ok)
	assert.Equal(t, "svn", scheme)
	assert.Equal(t, "https://svn.example.com/repo/trunk", rest)

	_, _, ok = ParseVersion("1.0.0")
	assert.False(t, ok, "a plain version string has no scheme prefix")

	_, _, ok = ParseVersion("DONT_CARE")
	assert.False(t, ok)
}

func TestRest(t *testing.T) {
	assert.Equal(t, "//repo#main", Rest("git://repo#main", "git"))
	assert.PanicsWithValue(t,
		`vcs: version "git://repo#main" does not have scheme prefix "svn:"`,
		func() { Rest("git://repo#main", "svn") },
	)
}

func TestRegistry(t *testing.T) {
	r := NewRegistry()
	g := Git{}
	r.Register("git", g)

	got, ok := r.Lookup("git")
	require.True(t, ok)
	assert.Equal(t, g, got)

	_, ok = r.Lookup("hg")
	assert.False(t, ok)
}
