package httpclient

import (
	"compress/gzip"
	"net/http"
)

// decompressRoundTripper transparently decompresses gzip-encoded responses.
// net/http's default transport already does this unless a request sets
// Accept-Encoding explicitly; this layer exists so the behavior is visible
// in the stack (spec §4.5's Decompression layer) and works even when a
// caller-supplied base RoundTripper disables the implicit handling.
type decompressRoundTripper struct {
	next http.RoundTripper
}

func (rt *decompressRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	if req.Header.Get("Accept-Encoding") == "" {
		req = req.Clone(req.Context())
		req.Header.Set("Accept-Encoding", "gzip")
	}
	resp, err := rt.next.RoundTrip(req)
	if err != nil || resp == nil {
		return resp, err
	}
	if resp.Header.Get("Content-Encoding") == "gzip" {
		gz, gzErr := gzip.NewReader(resp.Body)
		if gzErr == nil {
			origBody := resp.Body
			resp.Body = &gzipReadCloser{gz: gz, orig: origBody}
			resp.Header.Del("Content-Encoding")
			resp.ContentLength = -1
		}
	}
	return resp, nil
}

type gzipReadCloser struct {
	gz   *gzip.Reader
	orig interface{ Close() error }
}

func (g *gzipReadCloser) Read(p []byte) (int, error) { return g.gz.Read(p) }
func (g *gzipReadCloser) Close() error {
	_ = g.gz.Close()
	return g.orig.Close()
}

// AuthRoundTripperFunc lets a caller inject an outbound auth layer (e.g.
// signing or a bearer token) between Retry and Timeout, per spec §4.5's
// optional [Auth]? slot.
type AuthRoundTripperFunc func(req *http.Request) (*http.Request, error)

type authRoundTripper struct {
	next http.RoundTripper
	fn   AuthRoundTripperFunc
}

func (rt *authRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	signed, err := rt.fn(req)
	if err != nil {
		return nil, transportErr(err)
	}
	return rt.next.RoundTrip(signed)
}
