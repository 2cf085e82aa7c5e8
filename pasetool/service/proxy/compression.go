package proxy

import (
	"bytes"
	"errors"
	"io"
	"strings"

	"github.com/klauspost/compress/flate"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zlib"
	"github.com/klauspost/compress/zstd"
)

const (
	encodingGzip    = "gzip"
	encodingDeflate = "deflate"
	encodingZstd    = "zstd"
)

// ErrUnsupportedEncoding is returned for content codings that cannot be round-tripped.
var ErrUnsupportedEncoding = errors.New("unsupported content encoding")

// NormalizeEncoding canonicalizes a Content-Encoding value.
// ok is false for unknown codings and for stacked codings such as "gzip, br".
func NormalizeEncoding(encoding string) (string, bool) {
	encoding = strings.ToLower(strings.TrimSpace(encoding))
	if strings.Contains(encoding, ",") {
		return "", false
	}
	switch encoding {
	case encodingGzip, "x-gzip":
		return encodingGzip, true
	case encodingDeflate, encodingZstd:
		return encoding, true
	}
	return encoding, false
}

// IsIdentityEncoding reports whether a body with this Content-Encoding is plain.
func IsIdentityEncoding(encoding string) bool {
	e := strings.ToLower(strings.TrimSpace(encoding))
	return e == "" || e == "identity"
}

// Decompress decodes data according to encoding.
// Identity bodies are returned as-is; unknown codings return ErrUnsupportedEncoding.
func Decompress(data []byte, encoding string) ([]byte, error) {
	if IsIdentityEncoding(encoding) {
		return data, nil
	}
	normalized, ok := NormalizeEncoding(encoding)
	if !ok {
		return nil, ErrUnsupportedEncoding
	}

	switch normalized {
	case encodingGzip:
		gr, err := gzip.NewReader(bytes.NewReader(data))
		if err != nil {
			return nil, err
		}
		defer func() { _ = gr.Close() }()
		return io.ReadAll(gr)
	case encodingDeflate:
		// servers send both raw DEFLATE and zlib-wrapped streams under this name
		fr := flate.NewReader(bytes.NewReader(data))
		out, err := io.ReadAll(fr)
		_ = fr.Close()
		if err == nil {
			return out, nil
		}
		zr, err := zlib.NewReader(bytes.NewReader(data))
		if err != nil {
			return nil, err
		}
		defer func() { _ = zr.Close() }()
		return io.ReadAll(zr)
	default: // zstd
		dec, err := zstd.NewReader(nil)
		if err != nil {
			return nil, err
		}
		defer dec.Close()
		return dec.DecodeAll(data, nil)
	}
}

// Compress encodes data according to encoding. Identity returns data unchanged.
func Compress(data []byte, encoding string) ([]byte, error) {
	if IsIdentityEncoding(encoding) {
		return data, nil
	}
	normalized, ok := NormalizeEncoding(encoding)
	if !ok {
		return nil, ErrUnsupportedEncoding
	}

	var buf bytes.Buffer
	switch normalized {
	case encodingGzip:
		gw := gzip.NewWriter(&buf)
		if _, err := gw.Write(data); err != nil {
			return nil, err
		} else if err := gw.Close(); err != nil {
			return nil, err
		}
	case encodingDeflate:
		fw, err := flate.NewWriter(&buf, flate.DefaultCompression)
		if err != nil {
			return nil, err
		} else if _, err := fw.Write(data); err != nil {
			return nil, err
		} else if err := fw.Close(); err != nil {
			return nil, err
		}
	default: // zstd
		enc, err := zstd.NewWriter(nil)
		if err != nil {
			return nil, err
		}
		out := enc.EncodeAll(data, nil)
		_ = enc.Close()
		return out, nil
	}
	return buf.Bytes(), nil
}
