package ghapi

import (
	"net/url"
	"strings"
	"time"

	"github.com/imroc/req/v3"
	"github.com/provtrack/repostore/internal/version"
)

const (
	DefaultBaseURL = "https://api.github.com"
	DefaultTimeout = 30 * time.Second

	headerAccept     = "Accept"
	headerAPIVersion = "X-GitHub-Api-Version"
	mediaTypeJSON    = "application/vnd.github+json"
	mediaTypeRaw     = "application/vnd.github.raw+json"
	apiVersion       = "2022-11-28"
)

// Config holds the repository coordinates and credential.
type Config struct {
	BaseURL string
	Owner   string
	Repo    string
	Branch  string // empty means the repository default branch
	Token   string
	Timeout time.Duration
}

func (c *Config) Validate() error {
	if c.Owner == "" {
		return ErrNoOwner
	}
	if c.Repo == "" {
		return ErrNoRepo
	}
	return nil
}

// Client talks to the repository contents API. It keeps no state between
// calls besides its configuration, so it is safe for concurrent use.
type Client struct {
	http   *req.Client
	owner  string
	repo   string
	branch string
}

func New(cfg *Config) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	// retries are left to callers; only transport errors may be retried
	httpClient := req.C().
		SetBaseURL(baseURL).
		SetTimeout(timeout).
		SetUserAgent(version.UserAgent()).
		SetCommonHeader(headerAccept, mediaTypeJSON).
		SetCommonHeader(headerAPIVersion, apiVersion).
		SetJsonMarshal(jsonMarshal).
		SetJsonUnmarshal(jsonUnmarshal)

	if cfg.Token != "" {
		httpClient.SetCommonBearerAuthToken(cfg.Token)
	}

	return &Client{
		http:   httpClient,
		owner:  cfg.Owner,
		repo:   cfg.Repo,
		branch: cfg.Branch,
	}, nil
}

// Branch returns the configured branch, empty for the default branch.
func (c *Client) Branch() string { return c.branch }

func (c *Client) repoPath() string {
	return "/repos/" + url.PathEscape(c.owner) + "/" + url.PathEscape(c.repo)
}

func (c *Client) contentsPath(path string) string {
	return c.repoPath() + "/contents/" + escapePath(path)
}

// escapePath escapes each segment but keeps the separators.
func escapePath(path string) string {
	segs := strings.Split(strings.Trim(path, "/"), "/")
	for i, s := range segs {
		segs[i] = url.PathEscape(s)
	}
	return strings.Join(segs, "/")
}
