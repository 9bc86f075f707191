// Package blobtier decides where the bytes of an uploaded file live: inlined
// into the owning JSON record, or stored as a separate versioned blob.
package blobtier

import (
	"fmt"
	"path/filepath"
	"slices"
	"strings"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/dustin/go-humanize"
	"github.com/provtrack/repostore/internal/storeerr"
)

type Tier string

const (
	Inline     Tier = "inline"
	RemoteBlob Tier = "remote-blob"
)

const (
	DefaultInlineCeiling int64 = 1 << 20  // 1 MiB
	DefaultRemoteCeiling int64 = 25 << 20 // 25 MiB
)

var DefaultAllowedExtensions = []string{".pdf", ".doc", ".docx", ".jpg", ".png"}

// Policy is immutable once built. Boundaries belong to the lower tier.
type Policy struct {
	inlineCeiling int64
	remoteCeiling int64
	allowed       mapset.Set[string]
}

// New builds a policy. Zero ceilings fall back to the defaults; a nil
// extension list uses DefaultAllowedExtensions and an empty one allows any.
func New(inlineCeiling, remoteCeiling int64, extensions []string) (*Policy, error) {
	if inlineCeiling == 0 {
		inlineCeiling = DefaultInlineCeiling
	}
	if remoteCeiling == 0 {
		remoteCeiling = DefaultRemoteCeiling
	}
	if inlineCeiling < 0 || remoteCeiling < inlineCeiling {
		return nil, fmt.Errorf("invalid ceilings: inline %d, remote %d", inlineCeiling, remoteCeiling)
	}
	if extensions == nil {
		extensions = DefaultAllowedExtensions
	}

	allowed := mapset.NewThreadUnsafeSet[string]()
	for _, ext := range extensions {
		ext = strings.ToLower(strings.TrimSpace(ext))
		if ext == "" {
			continue
		}
		if !strings.HasPrefix(ext, ".") {
			ext = "." + ext
		}
		allowed.Add(ext)
	}

	return &Policy{
		inlineCeiling: inlineCeiling,
		remoteCeiling: remoteCeiling,
		allowed:       allowed,
	}, nil
}

// Default returns the policy with default ceilings and extensions.
func Default() *Policy {
	p, _ := New(DefaultInlineCeiling, DefaultRemoteCeiling, nil)
	return p
}

func (p *Policy) InlineCeiling() int64 { return p.inlineCeiling }
func (p *Policy) RemoteCeiling() int64 { return p.remoteCeiling }

// Decide maps a byte size to a tier. It is total and deterministic.
func (p *Policy) Decide(size int64) (Tier, error) {
	switch {
	case size < 0:
		return "", &storeerr.RejectedError{Reason: fmt.Sprintf("invalid size %d", size)}
	case size <= p.inlineCeiling:
		return Inline, nil
	case size <= p.remoteCeiling:
		return RemoteBlob, nil
	default:
		return "", &storeerr.RejectedError{
			Reason: fmt.Sprintf("size %s exceeds limit %s", humanize.IBytes(uint64(size)), humanize.IBytes(uint64(p.remoteCeiling))),
		}
	}
}

// Allowed reports whether the file extension of name is accepted.
func (p *Policy) Allowed(name string) bool {
	if p.allowed.Cardinality() == 0 {
		return true
	}
	return p.allowed.Contains(strings.ToLower(filepath.Ext(name)))
}

// Validate applies the extension allow-list and then Decide.
func (p *Policy) Validate(name string, size int64) (Tier, error) {
	if !p.Allowed(name) {
		exts := p.allowed.ToSlice()
		slices.Sort(exts)
		return "", &storeerr.RejectedError{
			Name:   name,
			Reason: "file type not allowed, accepted: " + strings.Join(exts, " "),
		}
	}
	tier, err := p.Decide(size)
	if rej, ok := err.(*storeerr.RejectedError); ok {
		rej.Name = name
	}
	return tier, err
}
