// Package status reports reconcile progress two ways: the flat
// "<epoch> <pid> <version> <status-phrase>" line in <run-dir>/status that
// the monitor CLI reads back, and the version/error properties on this
// host's coordination-tree node. The property writes go through a small
// retry wrapper generalized from the "collect a mutator, apply once, retry
// on transient failure" idiom; the status file is written once, without
// retry.
package status

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/afero"
	"github.com/zc-zkdeployment/agent/internal/zkcoord"
)

const statusFileName = "status"

// Status is the parsed content of the status file.
type Status struct {
	Epoch   time.Time
	PID     int
	Version string
	Phrase  string
}

// PropertySetter is the sliver of zkcoord.Client's surface status needs;
// an interface here lets tests exercise the retry/error-disposition logic
// without a live ZooKeeper session.
type PropertySetter interface {
	SetProperties(path string, updates zkcoord.Properties) error
}

// Reporter writes status to the local filesystem and to this host's node
// in the coordination tree.
type Reporter struct {
	fs       afero.Fs
	runDir   string
	pid      int
	client   PropertySetter
	hostPath string
}

// New returns a Reporter for one agent process.
func New(fs afero.Fs, runDir string, pid int, client PropertySetter, hostPath string) *Reporter {
	return &Reporter{fs: fs, runDir: runDir, pid: pid, client: client, hostPath: hostPath}
}

func (r *Reporter) statusPath() string {
	return r.runDir + "/" + statusFileName
}

// Write records phrase as the current status line, stamped with the
// given version and now().
func (r *Reporter) Write(version, phrase string) error {
	line := fmt.Sprintf("%d %d %s %s\n", time.Now().Unix(), r.pid, version, phrase)
	return afero.WriteFile(r.fs, r.statusPath(), []byte(line), 0o644)
}

// Read parses the status file written by Write.
func (r *Reporter) Read() (Status, error) {
	data, err := afero.ReadFile(r.fs, r.statusPath())
	if err != nil {
		return Status{}, fmt.Errorf("status: read %s: %w", r.statusPath(), err)
	}
	return ParseLine(string(data))
}

// ParseLine parses a single "<epoch> <pid> <version> <status-phrase>"
// status line. The status phrase may itself contain spaces.
func ParseLine(line string) (Status, error) {
	fields := strings.Fields(line)
	if len(fields) < 4 {
		return Status{}, fmt.Errorf("status: malformed line %q", line)
	}
	epoch, err := strconv.ParseInt(fields[0], 10, 64)
	if err != nil {
		return Status{}, fmt.Errorf("status: bad epoch in %q: %w", line, err)
	}
	pid, err := strconv.Atoi(fields[1])
	if err != nil {
		return Status{}, fmt.Errorf("status: bad pid in %q: %w", line, err)
	}
	return Status{
		Epoch:   time.Unix(epoch, 0),
		PID:     pid,
		Version: fields[2],
		Phrase:  strings.Join(fields[3:], " "),
	}, nil
}

// SetHostVersion writes the version property on this host's node.
func (r *Reporter) SetHostVersion(ctx context.Context, version interface{}) error {
	return withRetry(ctx, func() error {
		return r.client.SetProperties(r.hostPath, zkcoord.Properties{"version": version})
	})
}

// SetError records msg as the error property on this host's node, per
// spec.md §7's fatal-deploy-cycle disposition.
func (r *Reporter) SetError(ctx context.Context, msg string) error {
	return withRetry(ctx, func() error {
		return r.client.SetProperties(r.hostPath, zkcoord.Properties{"error": msg})
	})
}

// ClearError nulls the error property, as the top of every deploy() does
// before attempting a new reconcile (spec.md §4.5.2).
func (r *Reporter) ClearError(ctx context.Context) error {
	return withRetry(ctx, func() error {
		return r.client.SetProperties(r.hostPath, zkcoord.Properties{"error": nil})
	})
}

// withRetry runs fn up to three times with a short linear backoff,
// absorbing the transient coordination races spec.md §7 calls out
// ("watch re-fires spuriously; property write races -> loop/retry within
// client"). It gives up immediately on a NoNodeError, which a retry can
// never fix.
func withRetry(ctx context.Context, fn func() error) error {
	var lastErr error
	for attempt := 0; attempt < 3; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		err := fn()
		if err == nil {
			return nil
		}
		if _, noNode := err.(*zkcoord.NoNodeError); noNode {
			return err
		}
		lastErr = err
		time.Sleep(time.Duration(attempt+1) * 100 * time.Millisecond)
	}
	return fmt.Errorf("status: giving up after retries: %w", lastErr)
}
