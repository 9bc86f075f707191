package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/gofrs/flock"
	"github.com/goccy/go-json"
	"github.com/provtrack/repostore/internal/utils"
)

var (
	home, _            = os.UserHomeDir()
	DefaultConfigDir   = filepath.Join(home, ".repostore")
	DefaultConfigPath  = filepath.Join(DefaultConfigDir, "config.json")
	DefaultCacheDir    = filepath.Join(DefaultConfigDir, "cache")
	DefaultLogFilePath = filepath.Join(DefaultConfigDir, "logs", "repostore.log")
)

const (
	DefaultAPIURL         = "https://api.github.com"
	DefaultBranch         = "main"
	DefaultDataPath       = "data"
	DefaultUploadsPath    = "uploads"
	DefaultBackupsPath    = "backups"
	DefaultRequestTimeout = 30 * time.Second
	DefaultBackupInterval = 15 * time.Minute
	DefaultHTTPAddr       = "127.0.0.1:7938"

	cacheFileName = "cache.db"
)

var (
	ErrNoOwner = errors.New("config: owner is required")
	ErrNoRepo  = errors.New("config: repo is required")
	ErrNoToken = errors.New("config: token is required")
)

// Config holds the repository coordinates and the local settings. It is
// persisted as JSON and only changed by an explicit reconfiguration.
type Config struct {
	Owner             string   `json:"owner"`
	Repo              string   `json:"repo"`
	Branch            string   `json:"branch"`
	Token             string   `json:"token"`
	APIURL            string   `json:"api_url"`
	DataPath          string   `json:"data_path"`
	UploadsPath       string   `json:"uploads_path"`
	BackupsPath       string   `json:"backups_path"`
	CacheDir          string   `json:"cache_dir"`
	InlineCeiling     int64    `json:"inline_ceiling,omitempty"`
	RemoteCeiling     int64    `json:"remote_ceiling,omitempty"`
	AllowedExtensions []string `json:"allowed_extensions,omitempty"`
	RequestTimeout    Duration `json:"request_timeout"`
	BackupInterval    Duration `json:"backup_interval"`
	ArchiveBackups    bool     `json:"archive_backups"`
	Collections       []string `json:"collections,omitempty"`
	HTTPAddr          string   `json:"http_addr"`
	HTTPToken         string   `json:"http_token,omitempty"`
	Path              string   `json:"-"`
}

// Default returns a config with every optional field set.
func Default() *Config {
	c := &Config{}
	c.applyDefaults()
	return c
}

func (c *Config) applyDefaults() {
	if c.Branch == "" {
		c.Branch = DefaultBranch
	}
	if c.APIURL == "" {
		c.APIURL = DefaultAPIURL
	}
	if c.DataPath == "" {
		c.DataPath = DefaultDataPath
	}
	if c.UploadsPath == "" {
		c.UploadsPath = DefaultUploadsPath
	}
	if c.BackupsPath == "" {
		c.BackupsPath = DefaultBackupsPath
	}
	if c.CacheDir == "" {
		c.CacheDir = DefaultCacheDir
	}
	if c.RequestTimeout == 0 {
		c.RequestTimeout = Duration(DefaultRequestTimeout)
	}
	if c.BackupInterval == 0 {
		c.BackupInterval = Duration(DefaultBackupInterval)
	}
	if c.HTTPAddr == "" {
		c.HTTPAddr = DefaultHTTPAddr
	}
	if c.Path == "" {
		c.Path = DefaultConfigPath
	}
}

// Validate fills defaults and normalizes paths and extensions.
func (c *Config) Validate() error {
	c.Owner = strings.TrimSpace(c.Owner)
	c.Repo = strings.TrimSpace(c.Repo)
	c.Token = strings.TrimSpace(c.Token)
	switch {
	case c.Owner == "":
		return ErrNoOwner
	case c.Repo == "":
		return ErrNoRepo
	case c.Token == "":
		return ErrNoToken
	}

	c.applyDefaults()

	u, err := url.Parse(c.APIURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("config: invalid api url %q", c.APIURL)
	}
	c.APIURL = strings.TrimRight(c.APIURL, "/")

	c.DataPath = utils.JoinRemote(c.DataPath)
	c.UploadsPath = utils.JoinRemote(c.UploadsPath)
	c.BackupsPath = utils.JoinRemote(c.BackupsPath)
	if c.DataPath == "" || c.UploadsPath == "" || c.BackupsPath == "" {
		return errors.New("config: data, uploads and backups paths must not be the repository root")
	}

	if c.CacheDir, err = utils.ResolvePath(c.CacheDir); err != nil {
		return fmt.Errorf("config: cache dir: %w", err)
	}
	if c.Path, err = utils.ResolvePath(c.Path); err != nil {
		return fmt.Errorf("config: path: %w", err)
	}

	if c.InlineCeiling < 0 || c.RemoteCeiling < 0 {
		return errors.New("config: size ceilings must not be negative")
	}
	if c.InlineCeiling > 0 && c.RemoteCeiling > 0 && c.InlineCeiling > c.RemoteCeiling {
		return fmt.Errorf("config: inline ceiling %d exceeds remote ceiling %d", c.InlineCeiling, c.RemoteCeiling)
	}
	if c.RequestTimeout < 0 || c.BackupInterval < 0 {
		return errors.New("config: durations must not be negative")
	}

	if c.AllowedExtensions != nil {
		exts := make([]string, 0, len(c.AllowedExtensions))
		for _, ext := range c.AllowedExtensions {
			ext = strings.ToLower(strings.TrimSpace(ext))
			if ext == "" {
				continue
			}
			if !strings.HasPrefix(ext, ".") {
				ext = "." + ext
			}
			exts = append(exts, ext)
		}
		c.AllowedExtensions = exts
	}

	for _, p := range c.Collections {
		if !doublestar.ValidatePattern(p) {
			return fmt.Errorf("config: invalid collection pattern %q", p)
		}
	}
	return nil
}

// CachePath is the local database file.
func (c *Config) CachePath() string {
	return filepath.Join(c.CacheDir, cacheFileName)
}

// Redacted returns a copy safe to print.
func (c *Config) Redacted() *Config {
	cp := *c
	cp.Token = utils.MaskSecret(c.Token)
	cp.HTTPToken = utils.MaskSecret(c.HTTPToken)
	return &cp
}

// Save writes the config to path, or to c.Path when path is empty. Writers
// are serialized through a lock file next to the config.
func (c *Config) Save(path string) error {
	if path == "" {
		path = c.Path
	}
	if path == "" {
		path = DefaultConfigPath
	}
	if err := utils.EnsureParent(path); err != nil {
		return err
	}

	lock := flock.New(path + ".lock")
	if err := lock.Lock(); err != nil {
		return fmt.Errorf("config: lock %s: %w", path, err)
	}
	defer lock.Unlock()

	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}

	// the config carries the token
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return err
	}
	c.Path = path
	return nil
}

// Load reads the config at path. Missing optional fields are defaulted but
// the result is not validated.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	cfg.Path = path
	cfg.applyDefaults()
	return &cfg, nil
}
