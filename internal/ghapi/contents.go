package ghapi

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"strings"
)

var newlineStripper = strings.NewReplacer("\n", "", "\r", "")

// Fetch reads the object at path. ErrNotFound is returned when it is absent.
func (c *Client) Fetch(ctx context.Context, path string) (*Object, error) {
	r := c.http.R().SetContext(ctx)
	if c.branch != "" {
		r.SetQueryParam("ref", c.branch)
	}
	resp, err := r.Get(c.contentsPath(path))
	if err := handleAPIError(resp, err, "fetch", path); err != nil {
		return nil, err
	}

	body := bytes.TrimSpace(resp.Bytes())
	if len(body) > 0 && body[0] == '[' {
		return nil, &APIError{Kind: ErrRejected, Op: "fetch", Path: path, Message: "path is a directory"}
	}

	var meta contentResponse
	if err := jsonUnmarshal(body, &meta); err != nil {
		return nil, malformed("fetch", path, err)
	}
	if meta.Type != "" && meta.Type != "file" {
		return nil, &APIError{Kind: ErrRejected, Op: "fetch", Path: path, Message: "not a file: " + meta.Type}
	}

	obj := &Object{
		Path:        path,
		Version:     Version(meta.SHA),
		DownloadURL: meta.DownloadURL,
	}

	switch {
	case meta.Encoding == "base64":
		content, err := base64.StdEncoding.DecodeString(newlineStripper.Replace(meta.Content))
		if err != nil {
			return nil, malformed("fetch", path, err)
		}
		obj.Content = content
	case meta.Size == 0 && meta.Content == "":
		obj.Content = []byte{}
	default:
		// objects above the inline content limit come back without content
		content, err := c.fetchRaw(ctx, path)
		if err != nil {
			return nil, err
		}
		obj.Content = content
	}

	return obj, nil
}

func (c *Client) fetchRaw(ctx context.Context, path string) ([]byte, error) {
	r := c.http.R().
		SetContext(ctx).
		SetHeader(headerAccept, mediaTypeRaw)
	if c.branch != "" {
		r.SetQueryParam("ref", c.branch)
	}
	resp, err := r.Get(c.contentsPath(path))
	if err := handleAPIError(resp, err, "fetch raw", path); err != nil {
		return nil, err
	}
	slog.Debug("ghapi fetched raw content", "path", path, "size", len(resp.Bytes()))
	return resp.Bytes(), nil
}

// Write creates or replaces the object at path. expected must be the version
// from the latest read or write of path, or Absent when creating. A stale or
// missing version fails with ErrConflict; the remote is never overwritten
// blindly.
func (c *Client) Write(ctx context.Context, path string, content []byte, expected Version, message string) (*Object, error) {
	if message == "" {
		message = "update " + path
	}
	body := &writeRequest{
		Message: message,
		Content: base64.StdEncoding.EncodeToString(content),
		SHA:     string(expected),
		Branch:  c.branch,
	}

	var result writeResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(body).
		Put(c.contentsPath(path))
	if err := handleAPIError(resp, err, "write", path); err != nil {
		return nil, err
	}
	if err := jsonUnmarshal(resp.Bytes(), &result); err != nil {
		return nil, malformed("write", path, err)
	}
	if result.Content == nil || result.Content.SHA == "" {
		return nil, malformed("write", path, errors.New("missing content sha"))
	}

	slog.Debug("ghapi write", "path", path, "from", expected, "to", result.Content.SHA, "commit", result.Commit.SHA)
	return &Object{
		Path:        path,
		Content:     content,
		Version:     Version(result.Content.SHA),
		DownloadURL: result.Content.DownloadURL,
	}, nil
}

// Delete removes the object at path. Deleting an absent object succeeds.
// An Absent expected version is only accepted when the object does not exist.
func (c *Client) Delete(ctx context.Context, path string, expected Version, message string) error {
	if expected.IsAbsent() {
		_, err := c.Fetch(ctx, path)
		if errors.Is(err, ErrNotFound) {
			return nil
		} else if err != nil {
			return err
		}
		return &APIError{Kind: ErrConflict, Op: "delete", Path: path, Message: "object exists but no version was given"}
	}

	if message == "" {
		message = "delete " + path
	}
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(&deleteRequest{Message: message, SHA: string(expected), Branch: c.branch}).
		Delete(c.contentsPath(path))
	err = handleAPIError(resp, err, "delete", path)
	if errors.Is(err, ErrNotFound) {
		slog.Debug("ghapi delete of absent object", "path", path)
		return nil
	}
	return err
}

// List returns the entries of the directory at dir. A missing directory is
// empty.
func (c *Client) List(ctx context.Context, dir string) ([]*Entry, error) {
	r := c.http.R().SetContext(ctx)
	if c.branch != "" {
		r.SetQueryParam("ref", c.branch)
	}
	resp, err := r.Get(c.contentsPath(dir))
	err = handleAPIError(resp, err, "list", dir)
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	} else if err != nil {
		return nil, err
	}

	body := bytes.TrimSpace(resp.Bytes())
	var items []*contentResponse
	if len(body) > 0 && body[0] == '{' {
		var single contentResponse
		if err := jsonUnmarshal(body, &single); err != nil {
			return nil, malformed("list", dir, err)
		}
		items = append(items, &single)
	} else if err := jsonUnmarshal(body, &items); err != nil {
		return nil, malformed("list", dir, err)
	}

	entries := make([]*Entry, 0, len(items))
	for _, it := range items {
		entries = append(entries, &Entry{
			Name:        it.Name,
			Path:        it.Path,
			Type:        it.Type,
			Size:        it.Size,
			Version:     Version(it.SHA),
			DownloadURL: it.DownloadURL,
		})
	}
	return entries, nil
}

func (o *Object) String() string {
	return fmt.Sprintf("%s@%s (%d bytes)", o.Path, o.Version, len(o.Content))
}
