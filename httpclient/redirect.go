package httpclient

import (
	"io"
	"net/http"
	"strings"
)

// RedirectConfig configures the FollowRedirect(secure) layer of spec §4.5.
type RedirectConfig struct {
	MaxRedirects          int
	AllowHTTPSDowngrade   bool
	SameOriginOnly        bool
	AllowedRedirectHosts  map[string]struct{}
	StripSensitiveHeaders bool
}

func DefaultRedirectConfig() RedirectConfig {
	return RedirectConfig{
		MaxRedirects:          10,
		StripSensitiveHeaders: true,
	}
}

var sensitiveHeaders = []string{"Authorization", "Cookie", "Proxy-Authorization"}

// redirectRoundTripper manually follows 3xx responses (rather than relying
// on http.Client's CheckRedirect) so every hop can be vetted against the
// scheme/origin policy before the next request is issued.
type redirectRoundTripper struct {
	next http.RoundTripper
	cfg  RedirectConfig
}

func isRedirectStatus(code int) bool {
	switch code {
	case http.StatusMovedPermanently, http.StatusFound, http.StatusSeeOther,
		http.StatusTemporaryRedirect, http.StatusPermanentRedirect:
		return true
	default:
		return false
	}
}

func (rt *redirectRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	current := req
	originHost := req.URL.Hostname()
	originScheme := req.URL.Scheme

	for hop := 0; ; hop++ {
		resp, err := rt.next.RoundTrip(current)
		if err != nil {
			return resp, err
		}
		if !isRedirectStatus(resp.StatusCode) {
			return resp, nil
		}

		loc := resp.Header.Get("Location")
		if loc == "" {
			return resp, nil
		}
		if hop >= rt.cfg.MaxRedirects {
			resp.Body.Close()
			return nil, invalidURIErr(loc, "max redirects exceeded")
		}

		target, err := current.URL.Parse(loc)
		if err != nil {
			resp.Body.Close()
			return nil, invalidURIErr(loc, "unparseable redirect location")
		}

		if originScheme == "https" && target.Scheme == "http" && !rt.cfg.AllowHTTPSDowngrade {
			resp.Body.Close()
			return nil, invalidSchemeErr(target.Scheme, "https to http downgrade is disabled")
		}

		crossOrigin := !strings.EqualFold(target.Hostname(), originHost) || target.Scheme != originScheme
		if crossOrigin && rt.cfg.SameOriginOnly {
			if _, allowed := rt.cfg.AllowedRedirectHosts[target.Hostname()]; !allowed {
				resp.Body.Close()
				return nil, invalidURIErr(target.String(), "cross-origin redirect not allowed")
			}
		}

		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096)) //nolint:errcheck
		resp.Body.Close()

		next := current.Clone(current.Context())
		next.URL = target
		next.Host = ""
		if resp.StatusCode == http.StatusSeeOther ||
			((resp.StatusCode == http.StatusMovedPermanently || resp.StatusCode == http.StatusFound) && current.Method == http.MethodPost) {
			next.Method = http.MethodGet
			next.Body = nil
			next.ContentLength = 0
		}

		if crossOrigin && rt.cfg.StripSensitiveHeaders {
			for _, h := range sensitiveHeaders {
				next.Header.Del(h)
			}
		}

		current = next
	}
}
