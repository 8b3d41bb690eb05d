package httpclient

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
)

// BodySource produces fresh readers over an encoded request body.
type BodySource interface {
	NewReader() (io.ReadCloser, error)
	ContentLength() (int64, bool)
	Bytes() []byte
}

// NewBodySource encodes a resolved template body. A nil body has no
// content; raw bytes and json.RawMessage are sent unchanged; anything else is
// JSON encoded.
func NewBodySource(body any) (BodySource, error) {
	switch val := body.(type) {
	case nil:
		return emptyBodySource{}, nil
	case []byte:
		return &inlineBodySource{data: val}, nil
	case json.RawMessage:
		return &inlineBodySource{data: val}, nil
	default:
		var buf bytes.Buffer
		enc := json.NewEncoder(&buf)
		enc.SetEscapeHTML(false)
		if err := enc.Encode(val); err != nil {
			return nil, fmt.Errorf("encode request body: %w", err)
		}
		return &inlineBodySource{data: bytes.TrimRight(buf.Bytes(), "\n")}, nil
	}
}

type inlineBodySource struct {
	data []byte
}

func (s *inlineBodySource) NewReader() (io.ReadCloser, error) {
	return io.NopCloser(bytes.NewReader(s.data)), nil
}

func (s *inlineBodySource) ContentLength() (int64, bool) {
	return int64(len(s.data)), true
}

func (s *inlineBodySource) Bytes() []byte { return s.data }

type emptyBodySource struct{}

func (emptyBodySource) NewReader() (io.ReadCloser, error) {
	return http.NoBody, nil
}

func (emptyBodySource) ContentLength() (int64, bool) {
	return 0, true
}

func (emptyBodySource) Bytes() []byte { return nil }
