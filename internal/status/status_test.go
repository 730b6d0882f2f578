package status

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zc-zkdeployment/agent/internal/zkcoord"
)

func TestParseLine(t *testing.T) {
	s, err := ParseLine("1690000000 4242 1 deploying something long\n")
	require.NoError(t, err)
	assert.Equal(t, 4242, s.PID)
	assert.Equal(t, "1", s.Version)
	assert.Equal(t, "deploying something long", s.Phrase)
}

func TestParseLineMalformed(t *testing.T) {
	_, err := ParseLine("not enough fields")
	assert.Error(t, err)
}

func TestWriteThenRead(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, fs.MkdirAll("/run/agent", 0o755))
	r := New(fs, "/run/agent", 4242, nil, "/hosts/h")

	require.NoError(t, r.Write("3", "done"))
	s, err := r.Read()
	require.NoError(t, err)
	assert.Equal(t, "3", s.Version)
	assert.Equal(t, "done", s.Phrase)
	assert.WithinDuration(t, time.Now(), s.Epoch, 5*time.Second)
}

type fakeSetter struct {
	calls int
	fail  int
	err   error
}

func (f *fakeSetter) SetProperties(_ string, _ zkcoord.Properties) error {
	f.calls++
	if f.calls <= f.fail {
		if f.err != nil {
			return f.err
		}
		return errors.New("transient")
	}
	return nil
}

func TestSetErrorRetriesTransientFailures(t *testing.T) {
	fs := afero.NewMemMapFs()
	setter := &fakeSetter{fail: 2}
	r := New(fs, "/run/agent", 1, setter, "/hosts/h")

	require.NoError(t, r.SetError(context.Background(), "boom"))
	assert.Equal(t, 3, setter.calls)
}

func TestSetErrorGivesUpOnNoNode(t *testing.T) {
	fs := afero.NewMemMapFs()
	setter := &fakeSetter{fail: 1, err: &zkcoord.NoNodeError{Path: "/hosts/h"}}
	r := New(fs, "/run/agent", 1, setter, "/hosts/h")

	err := r.SetError(context.Background(), "boom")
	var noNode *zkcoord.NoNodeError
	require.ErrorAs(t, err, &noNode)
	assert.Equal(t, 1, setter.calls)
}
