package vcs

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGitIsUnderAndCurrentVersion(t *testing.T) {
	dir := t.TempDir()
	g := Git{}

	assert.False(t, g.IsUnder(dir))
	v, err := g.CurrentVersion(context.Background(), dir, "git")
	require.NoError(t, err)
	assert.Empty(t, v, "a directory with no .git has no recorded version")

	require.NoError(t, os.Mkdir(filepath.Join(dir, ".git"), 0o755))
	assert.True(t, g.IsUnder(dir))

	fullVersion := "git://example.com/repo#branches/x"
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".git", gitSidecarName), []byte(fullVersion), 0o644))

	v, err = g.CurrentVersion(context.Background(), dir, "git")
	require.NoError(t, err)
	assert.Equal(t, "//example.com/repo#branches/x", v)
}
