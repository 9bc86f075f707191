package filegw

import (
	"time"

	"github.com/provtrack/repostore/internal/blobtier"
	"github.com/provtrack/repostore/internal/ghapi"
)

// FileRecord references an uploaded file from inside a collection record.
// Inline records carry the encoded bytes in Data; remote-blob records carry
// Remote.
type FileRecord struct {
	Name       string        `json:"name"`
	MimeType   string        `json:"mimeType"`
	Size       int64         `json:"sizeBytes"`
	Tier       blobtier.Tier `json:"tier"`
	Data       string        `json:"data,omitempty"`
	Remote     *RemoteRef    `json:"remote,omitempty"`
	UploadedAt time.Time     `json:"uploadedAt"`
}

type RemoteRef struct {
	Path    string        `json:"path"`
	Version ghapi.Version `json:"version"`
	URL     string        `json:"url,omitempty"`
}

func (r *FileRecord) IsInline() bool { return r.Tier == blobtier.Inline }

// BlobInfo describes an uploaded blob found by List.
type BlobInfo struct {
	Name    string        `json:"name"`
	Path    string        `json:"path"`
	Size    int64         `json:"sizeBytes"`
	Version ghapi.Version `json:"version"`
	URL     string        `json:"url,omitempty"`
}
