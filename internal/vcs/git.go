package vcs

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Git is the DVCS backend: versions look like "<scheme>://<repo>#<refspec>".
// Grounded on _examples/original_source/.../git.py, whose update() clones
// on first use and pulls thereafter, and records the full version string
// in a sidecar file inside the checkout's VCS metadata directory so a
// later branch switch is detectable without re-querying the remote.
type Git struct{}

const gitSidecarName = ".zkdeployment"

func (Git) gitDir(path string) string    { return filepath.Join(path, ".git") }
func (g Git) sidecarPath(path string) string { return filepath.Join(g.gitDir(path), gitSidecarName) }

// IsUnder reports whether path already holds a git checkout.
func (g Git) IsUnder(path string) bool {
	info, err := os.Stat(g.gitDir(path))
	return err == nil && info.IsDir()
}

// CurrentVersion reads the sidecar file left by a previous Update and
// strips the "<scheme>:" prefix, leaving the "//<repo>#<refspec>" tail.
func (g Git) CurrentVersion(_ context.Context, path, scheme string) (string, error) {
	data, err := os.ReadFile(g.sidecarPath(path))
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil
		}
		return "", fmt.Errorf("vcs/git: read sidecar: %w", err)
	}
	recorded := strings.TrimSpace(string(data))
	return Rest(recorded, scheme), nil
}

// Update clones path fresh if nothing is checked out yet (then checks out
// the requested refspec and records the sidecar). If a checkout already
// exists it runs `git fetch origin` and `git checkout <refspec>` in place
// and records the sidecar; it does not pull, so an existing local branch
// is not advanced to the fetched remote tip. Callers are responsible for
// wiping path first when the recorded version disagrees with the desired
// one (§4.5.7) --
// Update itself never deletes anything.
func (g Git) Update(ctx context.Context, path, scheme, version string) error {
	rest := Rest(version, scheme) // "//repo#refspec"
	body := strings.TrimPrefix(rest, "//")
	hashIdx := strings.LastIndex(body, "#")
	if hashIdx < 0 {
		return fmt.Errorf("vcs/git: version %q has no #<refspec>", version)
	}
	repo, refspec := body[:hashIdx], body[hashIdx+1:]

	if g.IsUnder(path) {
		if _, err := run(ctx, path, "git", "fetch", "origin"); err != nil {
			return err
		}
		if _, err := run(ctx, path, "git", "checkout", refspec); err != nil {
			return err
		}
		if err := os.WriteFile(g.sidecarPath(path), []byte(version), 0o644); err != nil {
			return fmt.Errorf("vcs/git: write sidecar: %w", err)
		}
		return nil
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("vcs/git: mkdir: %w", err)
	}
	if _, err := run(ctx, "", "git", "clone", repo, path); err != nil {
		return err
	}
	if err := os.WriteFile(g.sidecarPath(path), []byte(version), 0o644); err != nil {
		return fmt.Errorf("vcs/git: write sidecar: %w", err)
	}
	if _, err := run(ctx, path, "git", "checkout", refspec); err != nil {
		return err
	}
	return nil
}
