package syncengine

import (
	"fmt"
	"strings"
)

// Mode decides which copy of a collection is authoritative.
type Mode string

const (
	// LocalOnly keeps everything in the local cache; no network calls.
	LocalOnly Mode = "local-only"
	// Hybrid serves reads and writes from the cache; the remote receives
	// best-effort backups.
	Hybrid Mode = "hybrid"
	// RemotePrimary reads and writes through the remote; the cache mirrors
	// successful operations.
	RemotePrimary Mode = "remote-primary"

	DefaultMode = Hybrid
)

var Modes = []Mode{LocalOnly, Hybrid, RemotePrimary}

func ParseMode(s string) (Mode, error) {
	switch m := Mode(strings.ToLower(strings.TrimSpace(s))); m {
	case LocalOnly, Hybrid, RemotePrimary:
		return m, nil
	case "local":
		return LocalOnly, nil
	case "remote":
		return RemotePrimary, nil
	default:
		return "", fmt.Errorf("unknown sync mode %q (want local-only, hybrid or remote-primary)", s)
	}
}

func (m Mode) Networked() bool { return m != LocalOnly }

func (m Mode) String() string { return string(m) }
