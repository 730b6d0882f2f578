// Package config loads the agent's ini-formatted configuration file
// (spec.md §6) and resolves each value through the file://, http:// and
// https:// indirections the original deployment system allows for any
// configuration key.
package config

import (
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"

	"github.com/spf13/afero"
	"github.com/spf13/viper"
)

const section = "zkdeployment"

// Config is the resolved content of the zkdeployment section.
type Config struct {
	HostID       string
	RunDirectory string
	Role         string
	After        []string
}

// MissingValueError reports a required key with no usable value. Per
// spec.md §6 this is a fatal startup condition that exits with code 2.
type MissingValueError struct {
	Key string
}

func (e *MissingValueError) Error() string {
	return fmt.Sprintf("config: required value %q is missing", e.Key)
}

// Load reads path (an ini file with a [zkdeployment] section) through fs
// and resolves every configured value.
func Load(fs afero.Fs, path string) (*Config, error) {
	v := viper.New()
	v.SetFs(fs)
	v.SetConfigType("ini")
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	hostID, err := resolveRequired(v, "host-id")
	if err != nil {
		return nil, err
	}
	runDir, err := resolveRequired(v, "run-directory")
	if err != nil {
		return nil, err
	}
	role, err := resolveOptional(v, "role")
	if err != nil {
		return nil, err
	}
	after, err := resolveOptional(v, "after")
	if err != nil {
		return nil, err
	}

	cfg := &Config{HostID: hostID, RunDirectory: runDir, Role: role}
	if after != "" {
		cfg.After = strings.Fields(after)
	}
	return cfg, nil
}

func rawValue(v *viper.Viper, key string) string {
	return v.GetString(section + "." + key)
}

func resolveRequired(v *viper.Viper, key string) (string, error) {
	resolved, err := ResolveValue(rawValue(v, key))
	if err != nil {
		return "", fmt.Errorf("config: resolve %q: %w", key, err)
	}
	if resolved == "" {
		return "", &MissingValueError{Key: key}
	}
	return resolved, nil
}

func resolveOptional(v *viper.Viper, key string) (string, error) {
	raw := rawValue(v, key)
	if raw == "" {
		return "", nil
	}
	resolved, err := ResolveValue(raw)
	if err != nil {
		return "", fmt.Errorf("config: resolve %q: %w", key, err)
	}
	return resolved, nil
}

// ResolveValue interprets raw per spec.md §6: a literal value is returned
// as-is; a "file:///path" value is read from disk; an "http(s)://" value
// is fetched (a 404 response resolves to "", a 200 response yields the
// response body, anything else is an error).
func ResolveValue(raw string) (string, error) {
	switch {
	case strings.HasPrefix(raw, "file://"):
		data, err := os.ReadFile(strings.TrimPrefix(raw, "file://"))
		if err != nil {
			return "", err
		}
		return strings.TrimSpace(string(data)), nil
	case strings.HasPrefix(raw, "http://"), strings.HasPrefix(raw, "https://"):
		return fetchHTTP(raw)
	default:
		return raw, nil
	}
}

func fetchHTTP(url string) (string, error) {
	resp, err := http.Get(url)
	if err != nil {
		return "", fmt.Errorf("config: fetch %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return "", nil
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("config: fetch %s: unexpected status %d", url, resp.StatusCode)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("config: read body of %s: %w", url, err)
	}
	return strings.TrimSpace(string(body)), nil
}
