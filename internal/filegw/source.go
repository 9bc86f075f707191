package filegw

import (
	"fmt"
	"os"
	"path/filepath"
)

// BlobSource is the content of a file to upload. Size must be known before
// the bytes are read.
type BlobSource interface {
	Name() string
	Size() int64
	MimeType() string // empty means unknown
	Bytes() ([]byte, error)
}

type fileSource struct {
	path string
	size int64
}

// FileSource reads an upload from the local filesystem.
func FileSource(path string) (BlobSource, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("stat file: %w", err)
	}
	if info.IsDir() {
		return nil, fmt.Errorf("%s is a directory", path)
	}
	return &fileSource{path: path, size: info.Size()}, nil
}

func (f *fileSource) Name() string     { return filepath.Base(f.path) }
func (f *fileSource) Size() int64      { return f.size }
func (f *fileSource) MimeType() string { return "" }
func (f *fileSource) Bytes() ([]byte, error) {
	data, err := os.ReadFile(f.path)
	if err != nil {
		return nil, fmt.Errorf("read file: %w", err)
	}
	return data, nil
}

type bytesSource struct {
	name     string
	mimeType string
	data     []byte
}

// BytesSource wraps in-memory content.
func BytesSource(name, mimeType string, data []byte) BlobSource {
	return &bytesSource{name: name, mimeType: mimeType, data: data}
}

func (b *bytesSource) Name() string           { return b.name }
func (b *bytesSource) Size() int64            { return int64(len(b.data)) }
func (b *bytesSource) MimeType() string       { return b.mimeType }
func (b *bytesSource) Bytes() ([]byte, error) { return b.data, nil }
