package ghapi

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/imroc/req/v3"
	"github.com/provtrack/repostore/internal/storeerr"
)

var (
	ErrNotFound     = storeerr.ErrNotFound
	ErrConflict     = storeerr.ErrConflict
	ErrRejected     = storeerr.ErrRejected
	ErrTransport    = storeerr.ErrTransport
	ErrUnauthorized = storeerr.ErrUnauthorized

	ErrNoOwner = errors.New("ghapi: repository owner missing")
	ErrNoRepo  = errors.New("ghapi: repository name missing")
)

type APIError = storeerr.APIError

// IsRetryable reports whether err is a transport failure.
func IsRetryable(err error) bool { return storeerr.IsRetryable(err) }

const headerRateLimitRemaining = "X-RateLimit-Remaining"

// handleAPIError maps a request outcome onto the error taxonomy.
func handleAPIError(resp *req.Response, requestErr error, op, path string) error {
	if requestErr != nil && (resp == nil || resp.Response == nil) {
		return &APIError{Kind: ErrTransport, Op: op, Path: path, Err: requestErr}
	}
	if resp == nil || resp.Response == nil {
		return &APIError{Kind: ErrTransport, Op: op, Path: path, Err: errors.New("no response")}
	}
	if !resp.IsErrorState() {
		if requestErr != nil {
			return &APIError{Kind: ErrTransport, Op: op, Path: path, Err: requestErr}
		}
		return nil
	}

	status := resp.GetStatusCode()
	message := errorMessage(resp)
	return &APIError{
		Kind:    classify(status, message, resp.GetHeader(headerRateLimitRemaining)),
		Op:      op,
		Path:    path,
		Status:  status,
		Message: message,
	}
}

func classify(status int, message, rateRemaining string) error {
	lower := strings.ToLower(message)
	switch {
	case status == http.StatusUnauthorized:
		return ErrUnauthorized
	case status == http.StatusForbidden:
		// exhausted rate limits come back as 403
		if rateRemaining == "0" || strings.Contains(lower, "rate limit") {
			return ErrTransport
		}
		return ErrUnauthorized
	case status == http.StatusNotFound:
		return ErrNotFound
	case status == http.StatusConflict:
		return ErrConflict
	case status == http.StatusUnprocessableEntity && strings.Contains(lower, "sha"):
		// missing or malformed version token for an existing object
		return ErrConflict
	case status == http.StatusTooManyRequests, status >= 500:
		return ErrTransport
	default:
		return ErrRejected
	}
}

func errorMessage(resp *req.Response) string {
	body := resp.Bytes()
	if len(body) == 0 {
		return http.StatusText(resp.GetStatusCode())
	}
	var e errorResponse
	if err := jsonUnmarshal(body, &e); err == nil && e.Message != "" {
		return e.Message
	}
	msg := strings.TrimSpace(string(body))
	if len(msg) > 200 {
		msg = msg[:200]
	}
	return msg
}

func malformed(op, path string, err error) error {
	return &APIError{Kind: ErrTransport, Op: op, Path: path, Message: "malformed response", Err: fmt.Errorf("decode: %w", err)}
}
