package client

import (
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/andybalholm/brotli"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zlib"
	"github.com/klauspost/compress/zstd"
)

// DecodeBody wraps resp.Body in a decompressor matching its
// Content-Encoding.  Identity and unknown encodings are returned unchanged.
// Closing the result closes resp.Body.
func DecodeBody(resp *http.Response) (io.ReadCloser, error) {
	enc := strings.ToLower(strings.TrimSpace(resp.Header.Get("Content-Encoding")))
	switch enc {
	case "", "identity":
		return resp.Body, nil
	case "gzip", "x-gzip":
		zr, err := gzip.NewReader(resp.Body)
		if err != nil {
			return nil, fmt.Errorf("client: gzip body: %w", err)
		}
		return &decodedBody{Reader: zr, closers: []io.Closer{zr, resp.Body}}, nil
	case "deflate":
		zr, err := zlib.NewReader(resp.Body)
		if err != nil {
			return nil, fmt.Errorf("client: deflate body: %w", err)
		}
		return &decodedBody{Reader: zr, closers: []io.Closer{zr, resp.Body}}, nil
	case "br":
		return &decodedBody{Reader: brotli.NewReader(resp.Body), closers: []io.Closer{resp.Body}}, nil
	case "zstd":
		zr, err := zstd.NewReader(resp.Body)
		if err != nil {
			return nil, fmt.Errorf("client: zstd body: %w", err)
		}
		rc := zr.IOReadCloser()
		return &decodedBody{Reader: rc, closers: []io.Closer{rc, resp.Body}}, nil
	default:
		return resp.Body, nil
	}
}

// ReadBody reads and decodes the whole response body, then closes it.
func ReadBody(resp *http.Response) ([]byte, error) {
	body, err := DecodeBody(resp)
	if err != nil {
		resp.Body.Close()
		return nil, err
	}
	defer body.Close()
	return io.ReadAll(body)
}

type decodedBody struct {
	io.Reader
	closers []io.Closer
}

func (d *decodedBody) Close() error {
	var first error
	for _, c := range d.closers {
		if err := c.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}
