package ghapi

import (
	"context"
	"errors"
	"net/url"
	"time"
)

// Probe checks that the repository is reachable with the configured
// credential and reports whether it can be written to.
func (c *Client) Probe(ctx context.Context) (*RepoInfo, error) {
	var repo repoResponse
	resp, err := c.http.R().
		SetContext(ctx).
		Get(c.repoPath())
	if err := handleAPIError(resp, err, "probe", c.owner+"/"+c.repo); err != nil {
		return nil, err
	}
	if err := jsonUnmarshal(resp.Bytes(), &repo); err != nil {
		return nil, malformed("probe", c.owner+"/"+c.repo, err)
	}

	info := &RepoInfo{
		FullName:      repo.FullName,
		DefaultBranch: repo.DefaultBranch,
		Branch:        c.branch,
		Private:       repo.Private,
		CanPush:       repo.Permissions.Push || repo.Permissions.Admin,
		ProbedAt:      time.Now(),
	}
	if info.Branch == "" {
		info.Branch = repo.DefaultBranch
		info.BranchExists = true
		return info, nil
	}

	resp, err = c.http.R().
		SetContext(ctx).
		Get(c.repoPath() + "/branches/" + url.PathEscape(info.Branch))
	err = handleAPIError(resp, err, "probe branch", info.Branch)
	switch {
	case err == nil:
		info.BranchExists = true
	case errors.Is(err, ErrNotFound):
		info.BranchExists = false
	default:
		return nil, err
	}
	return info, nil
}
