package vcs

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSubversionIsUnder(t *testing.T) {
	dir := t.TempDir()
	s := Subversion{}

	assert.False(t, s.IsUnder(dir))
	v, err := s.CurrentVersion(context.Background(), dir, "svn")
	require.NoError(t, err)
	assert.Empty(t, v)

	require.NoError(t, os.Mkdir(filepath.Join(dir, ".svn"), 0o755))
	assert.True(t, s.IsUnder(dir))
}
