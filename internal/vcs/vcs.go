// Package vcs implements the pluggable version-control backends spec.md
// §4.2 and §9 describe: a URL-scheme keyed registry of Backend
// implementations, populated at process startup, each capable of
// detecting a checkout, reading its current version, and updating it.
//
// Every concrete backend shells out to the real VCS tool (os/exec) the
// same way the teacher's internal/git package builds and runs VCS shell
// commands — no Go VCS library appears anywhere in the retrieved corpus.
package vcs

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Backend is the capability every VCS plugin provides. path is always a
// real filesystem path (VCS tools have no notion of the afero.Fs
// abstraction internal/hoststate uses elsewhere in this repository).
type Backend interface {
	// IsUnder reports whether path already holds a checkout managed by
	// this backend.
	IsUnder(path string) bool

	// CurrentVersion returns the portion of the version string that
	// follows "<scheme>:" as currently recorded on disk at path. scheme
	// is passed through because one backend may be registered under more
	// than one scheme alias (the centralized-VCS backend registers under
	// both "svn" and "svn+ssh" in the original implementation).
	CurrentVersion(ctx context.Context, path, scheme string) (string, error)

	// Update brings path to the given full "<scheme>:<rest>" version,
	// cloning/checking out fresh if nothing is there yet.
	Update(ctx context.Context, path, scheme, version string) error
}

// DontCare is the sentinel version string meaning "any version already
// present is acceptable" (spec.md §3).
const DontCare = "DONT_CARE"

// Registry maps a URL scheme prefix to the Backend that handles it.
type Registry struct {
	backends map[string]Backend
}

// NewRegistry returns an empty registry; callers populate it at startup,
// mirroring DESIGN NOTES §9's "Plugin registry for VCS backends ...
// populated at process startup".
func NewRegistry() *Registry {
	return &Registry{backends: map[string]Backend{}}
}

// Register installs b as the handler for scheme. A backend may be
// registered under more than one scheme.
func (r *Registry) Register(scheme string, b Backend) {
	r.backends[scheme] = b
}

// Default returns a registry populated with every backend this package
// ships, under every scheme alias the original implementation recognizes
// (git.py's single scheme, svn.py's centralized-VCS backend registered
// under both "svn" and "svn+ssh"). Both the agent and the sync driver
// construct their registry this way unless a caller overrides it.
func Default() *Registry {
	r := NewRegistry()
	git := Git{}
	r.Register("git", git)
	svn := Subversion{}
	r.Register("svn", svn)
	r.Register("svn+ssh", svn)
	return r
}

// Lookup returns the backend registered for scheme, if any.
func (r *Registry) Lookup(scheme string) (Backend, bool) {
	b, ok := r.backends[scheme]
	return b, ok
}

// All returns every distinct backend registered, regardless of how many
// scheme aliases it answers to. Used to detect "is this opt dir a VCS
// checkout under any backend at all" without knowing the scheme up front.
func (r *Registry) All() []Backend {
	seen := make(map[Backend]bool)
	var out []Backend
	for _, b := range r.backends {
		if !seen[b] {
			seen[b] = true
			out = append(out, b)
		}
	}
	return out
}

// ParseVersion splits a deployment version string of the form
// "<scheme>:<rest>" into its scheme and the remainder, or reports ok=false
// if version carries no recognizable "<scheme>:" prefix at all (a plain
// version string, or the DONT_CARE sentinel, has no scheme).
func ParseVersion(version string) (scheme, rest string, ok bool) {
	idx := strings.Index(version, ":")
	if idx <= 0 {
		return "", "", false
	}
	scheme = version[:idx]
	for _, r := range scheme {
		if !isSchemeChar(r) {
			return "", "", false
		}
	}
	return scheme, version[idx+1:], true
}

// PostUpdate runs the application's stage-build script (if present) with
// its working directory set to the checkout root, then makes the whole
// tree world-readable. Per spec.md §4.2 this follows every successful VCS
// update, regardless of which backend performed it.
func PostUpdate(ctx context.Context, checkoutRoot string) error {
	stageBuild := filepath.Join(checkoutRoot, "stage-build")
	if info, err := os.Stat(stageBuild); err == nil && !info.IsDir() {
		if _, err := run(ctx, checkoutRoot, stageBuild); err != nil {
			return fmt.Errorf("vcs: stage-build: %w", err)
		}
	}
	if _, err := run(ctx, "", "chmod", "-R", "a+rX", checkoutRoot); err != nil {
		return fmt.Errorf("vcs: chmod: %w", err)
	}
	return nil
}

func isSchemeChar(r rune) bool {
	return (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') || r == '+' || r == '-' || r == '.'
}

// Rest strips the "<scheme>:" prefix matching scheme from version. It
// panics if version does not actually start with that prefix, since every
// caller has already resolved scheme via ParseVersion.
func Rest(version, scheme string) string {
	prefix := scheme + ":"
	if !strings.HasPrefix(version, prefix) {
		panic(fmt.Sprintf("vcs: version %q does not have scheme prefix %q", version, prefix))
	}
	return version[len(prefix):]
}
