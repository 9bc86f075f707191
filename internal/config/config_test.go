package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig(t *testing.T) *Config {
	t.Helper()
	tmp := t.TempDir()
	return &Config{
		Owner:    "acme",
		Repo:     "tracker",
		Token:    "ghp_0123456789abcdef",
		CacheDir: filepath.Join(tmp, "cache"),
		Path:     filepath.Join(tmp, "config.json"),
	}
}

func TestConfig_Validate_FillsDefaults(t *testing.T) {
	cfg := validConfig(t)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, DefaultBranch, cfg.Branch)
	assert.Equal(t, DefaultAPIURL, cfg.APIURL)
	assert.Equal(t, "data", cfg.DataPath)
	assert.Equal(t, "uploads", cfg.UploadsPath)
	assert.Equal(t, "backups", cfg.BackupsPath)
	assert.Equal(t, DefaultRequestTimeout, cfg.RequestTimeout.Std())
	assert.Equal(t, DefaultBackupInterval, cfg.BackupInterval.Std())
	assert.Equal(t, DefaultHTTPAddr, cfg.HTTPAddr)
	assert.True(t, filepath.IsAbs(cfg.CacheDir))
	assert.Equal(t, filepath.Join(cfg.CacheDir, "cache.db"), cfg.CachePath())
}

func TestConfig_Validate_Normalizes(t *testing.T) {
	cfg := validConfig(t)
	cfg.Owner = "  acme "
	cfg.APIURL = "https://ghe.example.com/api/v3/"
	cfg.DataPath = "/store/data/"
	cfg.AllowedExtensions = []string{"PDF", ".Docx", " "}

	require.NoError(t, cfg.Validate())
	assert.Equal(t, "acme", cfg.Owner)
	assert.Equal(t, "https://ghe.example.com/api/v3", cfg.APIURL)
	assert.Equal(t, "store/data", cfg.DataPath)
	assert.Equal(t, []string{".pdf", ".docx"}, cfg.AllowedExtensions)
}

func TestConfig_Validate_Errors(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   error
		msg    string
	}{
		{name: "no owner", mutate: func(c *Config) { c.Owner = "" }, want: ErrNoOwner},
		{name: "no repo", mutate: func(c *Config) { c.Repo = " " }, want: ErrNoRepo},
		{name: "no token", mutate: func(c *Config) { c.Token = "" }, want: ErrNoToken},
		{name: "bad api url", mutate: func(c *Config) { c.APIURL = "ftp://example.com" }, msg: "api url"},
		{name: "root data path", mutate: func(c *Config) { c.DataPath = "/" }, msg: "repository root"},
		{name: "negative ceiling", mutate: func(c *Config) { c.InlineCeiling = -1 }, msg: "negative"},
		{name: "inverted ceilings", mutate: func(c *Config) { c.InlineCeiling, c.RemoteCeiling = 10, 5 }, msg: "exceeds"},
		{name: "bad pattern", mutate: func(c *Config) { c.Collections = []string{"sup[pliers"} }, msg: "pattern"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig(t)
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			if tt.want != nil {
				assert.ErrorIs(t, err, tt.want)
			}
			if tt.msg != "" {
				assert.Contains(t, err.Error(), tt.msg)
			}
		})
	}
}

func TestConfig_SaveLoad(t *testing.T) {
	cfg := validConfig(t)
	cfg.ArchiveBackups = true
	cfg.Collections = []string{"suppliers", "eval*"}
	cfg.BackupInterval = Duration(5 * time.Minute)
	require.NoError(t, cfg.Validate())
	require.NoError(t, cfg.Save(""))

	info, err := os.Stat(cfg.Path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	loaded, err := Load(cfg.Path)
	require.NoError(t, err)
	assert.Equal(t, cfg, loaded)

	raw, err := os.ReadFile(cfg.Path)
	require.NoError(t, err)
	var m map[string]any
	require.NoError(t, json.Unmarshal(raw, &m))
	assert.Equal(t, "5m0s", m["backup_interval"])
	assert.NotContains(t, m, "Path")
}

func TestLoad_DefaultsMissingFields(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"owner":"acme","repo":"tracker","token":"x","request_timeout":10}`), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, path, cfg.Path)
	assert.Equal(t, DefaultBranch, cfg.Branch)
	assert.Equal(t, 10*time.Second, cfg.RequestTimeout.Std())
}

func TestLoad_Errors(t *testing.T) {
	dir := t.TempDir()
	_, err := Load(filepath.Join(dir, "missing.json"))
	assert.ErrorIs(t, err, os.ErrNotExist)

	bad := filepath.Join(dir, "bad.json")
	require.NoError(t, os.WriteFile(bad, []byte(`{"request_timeout":"soon"}`), 0o600))
	_, err = Load(bad)
	assert.Error(t, err)
}

func TestConfig_Redacted(t *testing.T) {
	cfg := validConfig(t)
	cfg.HTTPToken = "short"
	red := cfg.Redacted()
	assert.Equal(t, "ghp_*****", red.Token)
	assert.Equal(t, "*****", red.HTTPToken)
	assert.Equal(t, "ghp_0123456789abcdef", cfg.Token)
}

func TestParseDuration(t *testing.T) {
	tests := []struct {
		in   any
		want time.Duration
		err  bool
	}{
		{in: nil},
		{in: ""},
		{in: "1m30s", want: 90 * time.Second},
		{in: float64(2.5), want: 2500 * time.Millisecond},
		{in: 45, want: 45 * time.Second},
		{in: time.Minute, want: time.Minute},
		{in: "soon", err: true},
		{in: true, err: true},
	}
	for _, tt := range tests {
		got, err := ParseDuration(tt.in)
		if tt.err {
			assert.Error(t, err, "%v", tt.in)
			continue
		}
		require.NoError(t, err, "%v", tt.in)
		assert.Equal(t, tt.want, got.Std(), "%v", tt.in)
	}
}
