package ghapi

import "time"

// Version is the provider's content hash for an object. The zero value means
// the object is absent.
type Version string

const Absent Version = ""

func (v Version) IsAbsent() bool { return v == Absent }

// Object is a file in the repository together with the version it was read
// or written at.
type Object struct {
	Path        string
	Content     []byte
	Version     Version
	DownloadURL string
}

// Entry is one item of a directory listing.
type Entry struct {
	Name        string
	Path        string
	Type        string // file, dir, symlink, submodule
	Size        int64
	Version     Version
	DownloadURL string
}

func (e *Entry) IsDir() bool { return e.Type == "dir" }

// RepoInfo is the result of a connection probe.
type RepoInfo struct {
	FullName      string    `json:"fullName"`
	DefaultBranch string    `json:"defaultBranch"`
	Branch        string    `json:"branch"`
	BranchExists  bool      `json:"branchExists"`
	Private       bool      `json:"private"`
	CanPush       bool      `json:"canPush"`
	ProbedAt      time.Time `json:"probedAt"`
}

// wire types

type contentResponse struct {
	Type        string `json:"type"`
	Encoding    string `json:"encoding"`
	Size        int64  `json:"size"`
	Name        string `json:"name"`
	Path        string `json:"path"`
	Content     string `json:"content"`
	SHA         string `json:"sha"`
	DownloadURL string `json:"download_url"`
}

type writeRequest struct {
	Message string `json:"message"`
	Content string `json:"content"`
	SHA     string `json:"sha,omitempty"`
	Branch  string `json:"branch,omitempty"`
}

type deleteRequest struct {
	Message string `json:"message"`
	SHA     string `json:"sha"`
	Branch  string `json:"branch,omitempty"`
}

type writeResponse struct {
	Content *contentResponse `json:"content"`
	Commit  struct {
		SHA string `json:"sha"`
	} `json:"commit"`
}

type repoResponse struct {
	FullName      string `json:"full_name"`
	DefaultBranch string `json:"default_branch"`
	Private       bool   `json:"private"`
	Permissions   struct {
		Admin bool `json:"admin"`
		Push  bool `json:"push"`
		Pull  bool `json:"pull"`
	} `json:"permissions"`
}

type errorResponse struct {
	Message          string `json:"message"`
	DocumentationURL string `json:"documentation_url"`
}
