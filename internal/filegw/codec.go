package filegw

import (
	"encoding/base64"
	"strings"
)

// ByteCodec turns blob bytes into text that can live inside a JSON record.
type ByteCodec interface {
	Encode(data []byte) string
	Decode(text string) ([]byte, error)
}

// Base64Codec is the standard padded base64 codec. Decode also accepts data
// URLs (`data:application/pdf;base64,...`) and embedded line breaks.
type Base64Codec struct{}

func (Base64Codec) Encode(data []byte) string {
	return base64.StdEncoding.EncodeToString(data)
}

func (Base64Codec) Decode(text string) ([]byte, error) {
	if strings.HasPrefix(text, "data:") {
		if i := strings.IndexByte(text, ','); i >= 0 {
			text = text[i+1:]
		}
	}
	text = strings.Map(func(r rune) rune {
		switch r {
		case '\n', '\r', ' ', '\t':
			return -1
		}
		return r
	}, text)
	return base64.StdEncoding.DecodeString(text)
}
