package fetch

import (
	"io"
	"net/http"
	"strings"

	"github.com/andybalholm/brotli"
	"github.com/klauspost/compress/gzip"
)

const acceptEncoding = "gzip, br"

// decodingTransport advertises gzip and brotli and decodes the body it gets back
type decodingTransport struct {
	base http.RoundTripper
}

func (t *decodingTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if req.Header.Get("Accept-Encoding") != "" || req.Header.Get("Range") != "" {
		return t.base.RoundTrip(req)
	}

	req = req.Clone(req.Context())
	req.Header.Set("Accept-Encoding", acceptEncoding)

	resp, err := t.base.RoundTrip(req)
	if err != nil {
		return nil, err
	}

	var newReader func(io.Reader) (io.Reader, error)
	switch strings.ToLower(strings.TrimSpace(resp.Header.Get("Content-Encoding"))) {
	case "gzip":
		newReader = func(r io.Reader) (io.Reader, error) {
			zr, err := gzip.NewReader(r)
			if err != nil {
				return nil, err
			}
			return zr, nil
		}
	case "br":
		newReader = func(r io.Reader) (io.Reader, error) {
			return brotli.NewReader(r), nil
		}
	default:
		return resp, nil
	}

	resp.Body = &decodingBody{body: resp.Body, newReader: newReader}
	resp.Header.Del("Content-Encoding")
	resp.Header.Del("Content-Length")
	resp.ContentLength = -1
	resp.Uncompressed = true
	return resp, nil
}

// decodingBody defers decoder construction to the first Read so that an
// empty body does not fail before anyone reads it
type decodingBody struct {
	body      io.ReadCloser
	newReader func(io.Reader) (io.Reader, error)
	r         io.Reader
	err       error
}

func (b *decodingBody) Read(p []byte) (int, error) {
	if b.err != nil {
		return 0, b.err
	}
	if b.r == nil {
		r, err := b.newReader(b.body)
		if err != nil {
			b.err = err
			return 0, err
		}
		b.r = r
	}
	return b.r.Read(p)
}

func (b *decodingBody) Close() error {
	if c, ok := b.r.(io.Closer); ok {
		c.Close()
	}
	return b.body.Close()
}
