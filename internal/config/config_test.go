package config

import (
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, fs afero.Fs, path, body string) {
	t.Helper()
	require.NoError(t, afero.WriteFile(fs, path, []byte(body), 0o644))
}

func TestLoadLiteralValues(t *testing.T) {
	fs := afero.NewMemMapFs()
	writeConfig(t, fs, "/etc/agent.ini", `
[zkdeployment]
host-id = 424242424242
run-directory = /var/run/agent
role = my.role
after = /usr/local/bin/notify --done
`)

	cfg, err := Load(fs, "/etc/agent.ini")
	require.NoError(t, err)
	assert.Equal(t, "424242424242", cfg.HostID)
	assert.Equal(t, "/var/run/agent", cfg.RunDirectory)
	assert.Equal(t, "my.role", cfg.Role)
	assert.Equal(t, []string{"/usr/local/bin/notify", "--done"}, cfg.After)
}

func TestLoadMissingRequiredValue(t *testing.T) {
	fs := afero.NewMemMapFs()
	writeConfig(t, fs, "/etc/agent.ini", `
[zkdeployment]
run-directory = /var/run/agent
`)

	_, err := Load(fs, "/etc/agent.ini")
	var missing *MissingValueError
	require.ErrorAs(t, err, &missing)
	assert.Equal(t, "host-id", missing.Key)
}

func TestResolveValueFileScheme(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, "host-id")
	require.NoError(t, os.WriteFile(p, []byte("424242424242\n"), 0o644))

	v, err := ResolveValue("file://" + p)
	require.NoError(t, err)
	assert.Equal(t, "424242424242", v)
}

func TestResolveValueHTTPScheme(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/missing" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.Write([]byte("resolved-value\n"))
	}))
	defer srv.Close()

	v, err := ResolveValue(srv.URL + "/host-id")
	require.NoError(t, err)
	assert.Equal(t, "resolved-value", v)

	v, err = ResolveValue(srv.URL + "/missing")
	require.NoError(t, err)
	assert.Empty(t, v)
}

func TestResolveValueLiteral(t *testing.T) {
	v, err := ResolveValue("plain-value")
	require.NoError(t, err)
	assert.Equal(t, "plain-value", v)
}
