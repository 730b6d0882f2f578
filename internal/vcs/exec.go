package vcs

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
)

// run executes name with args, with working directory dir (ignored if
// empty), and returns combined stdout+stderr. A non-zero exit is reported
// as an error carrying that output, mirroring the original run_command's
// "log the command and its output, then raise" behavior (agent.py /
// __init__.py's run_command).
func run(ctx context.Context, dir, name string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = dir
	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out
	if err := cmd.Run(); err != nil {
		return out.String(), fmt.Errorf("vcs: command failed: %s %v: %w\n%s", name, args, err, out.String())
	}
	return out.String(), nil
}
