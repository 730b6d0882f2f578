package pkgmanager

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeRunner scripts yum output by exact command line and records every
// invocation, so tests can assert on ordering and counts. Entries in
// afterDowngrade replace the matching responses once a downgrade has run.
type fakeRunner struct {
	calls          [][]string
	responses      map[string]string
	afterDowngrade map[string]string
}

func (f *fakeRunner) Run(_ context.Context, name string, args ...string) (string, error) {
	call := append([]string{name}, args...)
	f.calls = append(f.calls, call)
	if len(args) >= 2 && args[1] == "downgrade" {
		for k, v := range f.afterDowngrade {
			f.responses[k] = v
		}
	}
	key := strings.Join(call, " ")
	if out, ok := f.responses[key]; ok {
		return out, nil
	}
	return "", nil
}

func (f *fakeRunner) countClean() int {
	n := 0
	for _, c := range f.calls {
		if len(c) >= 3 && c[1] == "-y" && c[2] == "clean" {
			n++
		}
	}
	return n
}

func TestManagerCleanAllOncePerCycle(t *testing.T) {
	r := &fakeRunner{responses: map[string]string{}}
	m := NewWithRunner(r)
	m.BeginCycle()

	require.NoError(t, m.Install(context.Background(), "widget", ""))
	require.NoError(t, m.Install(context.Background(), "gadget", ""))
	assert.Equal(t, 1, r.countClean(), "clean all must run once per cycle, not once per install")

	m.BeginCycle()
	require.NoError(t, m.Install(context.Background(), "widget", ""))
	assert.Equal(t, 2, r.countClean(), "a new cycle resets the clean-all bookkeeping")
}

func TestManagerInstallDowngradeRetry(t *testing.T) {
	r := &fakeRunner{responses: map[string]string{
		"yum -q list installed widget": "widget.x86_64    2.0-1    repo\n",
	}, afterDowngrade: map[string]string{
		"yum -q list installed widget": "widget.x86_64    1.0-1    repo\n",
	}}
	m := NewWithRunner(r)
	m.BeginCycle()

	err := m.Install(context.Background(), "widget", "1.0")
	require.NoError(t, err)

	var downgraded bool
	for _, c := range r.calls {
		if len(c) >= 2 && c[1] == "-y" && len(c) >= 3 && c[2] == "downgrade" {
			downgraded = true
		}
	}
	assert.True(t, downgraded, "yum reported the wrong version, so Install must retry via downgrade")
}

func TestManagerInstallFailsAfterDowngradeStillWrong(t *testing.T) {
	r := &fakeRunner{responses: map[string]string{
		"yum -q list installed widget": "widget.x86_64    2.0-1    repo\n",
	}}
	m := NewWithRunner(r)
	m.BeginCycle()

	err := m.Install(context.Background(), "widget", "1.0")
	var installErr *InstallError
	require.ErrorAs(t, err, &installErr)
	assert.Equal(t, "1.0", installErr.Demanded)
	assert.Equal(t, "2.0", installErr.Got)
}

func TestManagerRPMVersionNotInstalled(t *testing.T) {
	r := &fakeRunner{responses: map[string]string{}}
	m := NewWithRunner(r)

	v, err := m.RPMVersion(context.Background(), "absent")
	require.NoError(t, err)
	assert.Empty(t, v)
}

func TestManagerRemove(t *testing.T) {
	r := &fakeRunner{responses: map[string]string{}}
	m := NewWithRunner(r)
	require.NoError(t, m.Remove(context.Background(), "widget"))
	assert.Contains(t, r.calls, []string{"yum", "-y", "remove", "widget"})
}
