package vcs

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Subversion is the centralized-VCS backend: versions look like
// "<scheme>:<url>". Grounded on _examples/original_source/.../svn.py,
// which is registered under both the "svn" and "svn+ssh" scheme aliases
// in the original and whose current version is simply the checkout's
// `svn info` URL.
type Subversion struct{}

func (Subversion) dotSvnDir(path string) string { return filepath.Join(path, ".svn") }

// IsUnder reports whether path already holds a Subversion checkout.
func (s Subversion) IsUnder(path string) bool {
	info, err := os.Stat(s.dotSvnDir(path))
	return err == nil && info.IsDir()
}

// CurrentVersion shells out to `svn info` and returns the "URL:" line's
// value, which is directly comparable to the "<rest>" half of a
// "<scheme>:<rest>" version string.
func (s Subversion) CurrentVersion(ctx context.Context, path, _ string) (string, error) {
	if !s.IsUnder(path) {
		return "", nil
	}
	out, err := run(ctx, "", "svn", "info", path)
	if err != nil {
		return "", err
	}
	for _, line := range strings.Split(out, "\n") {
		if rest, ok := cutPrefix(line, "URL: "); ok {
			return strings.TrimSpace(rest), nil
		}
	}
	return "", fmt.Errorf("vcs/svn: no URL: line in `svn info %s` output", path)
}

// Update checks out rest (the part of version after "<scheme>:") into
// path. `svn checkout` is idempotent against an existing working copy at
// the same URL, so unlike the git backend this does not need to
// distinguish a fresh checkout from an update in place.
func (s Subversion) Update(ctx context.Context, path, scheme, version string) error {
	url := Rest(version, scheme)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("vcs/svn: mkdir: %w", err)
	}
	_, err := run(ctx, "", "svn", "co", url, path)
	return err
}

func cutPrefix(s, prefix string) (string, bool) {
	if !strings.HasPrefix(s, prefix) {
		return "", false
	}
	return s[len(prefix):], true
}
