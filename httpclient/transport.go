package httpclient

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"net/http"
	"time"
)

// TrustStore selects where the transport's TLS root CAs come from.
type TrustStore int

const (
	// TrustStoreEmbedded uses Go's embedded trust store (the zero-value
	// *tls.Config RootCAs, which falls back to the OS store via crypto/x509
	// on most platforms but never shells out).
	TrustStoreEmbedded TrustStore = iota
	// TrustStoreOSNative forces crypto/x509.SystemCertPool(), surfacing a
	// Tls error if the OS store can't be loaded.
	TrustStoreOSNative
)

// SchemePolicy controls which URL schemes the transport will dial.
type SchemePolicy int

const (
	// TLSOnly rejects plain http:// at call-site (spec §4.5 default).
	TLSOnly SchemePolicy = iota
	// AllowPlaintext permits http:// (opt-in; never the default).
	AllowPlaintext
)

// TransportConfig configures the innermost TransportTLS layer.
type TransportConfig struct {
	TrustStore      TrustStore
	SchemePolicy    SchemePolicy
	DialTimeout     time.Duration
	IdleConnTimeout time.Duration
	MaxIdleConns    int
}

func DefaultTransportConfig() TransportConfig {
	return TransportConfig{
		TrustStore:      TrustStoreEmbedded,
		SchemePolicy:    TLSOnly,
		DialTimeout:     10 * time.Second,
		IdleConnTimeout: 90 * time.Second,
		MaxIdleConns:    100,
	}
}

// newBaseTransport builds the *http.Transport the TransportTLS layer
// dispatches to, honoring the configured trust store.
func newBaseTransport(cfg TransportConfig) (*http.Transport, error) {
	tlsConfig := &tls.Config{MinVersion: tls.VersionTLS12}

	if cfg.TrustStore == TrustStoreOSNative {
		pool, err := x509.SystemCertPool()
		if err != nil {
			return nil, tlsErr(fmt.Errorf("load OS trust store: %w", err))
		}
		tlsConfig.RootCAs = pool
	}

	return &http.Transport{
		TLSClientConfig:   tlsConfig,
		IdleConnTimeout:   cfg.IdleConnTimeout,
		MaxIdleConns:      cfg.MaxIdleConns,
		ForceAttemptHTTP2: true,
	}, nil
}

// schemeRoundTripper enforces spec §4.5's transport security rule: a
// scheme that isn't http(s) is InvalidUri; http under TlsOnly is
// InvalidScheme.
type schemeRoundTripper struct {
	next   http.RoundTripper
	policy SchemePolicy
}

func (rt *schemeRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	scheme := req.URL.Scheme
	switch scheme {
	case "https":
		// always fine
	case "http":
		if rt.policy == TLSOnly {
			return nil, invalidSchemeErr(scheme, "plaintext http is disabled; TLS-only transport")
		}
	default:
		return nil, invalidURIErr(req.URL.String(), "scheme must be http or https")
	}
	resp, err := rt.next.RoundTrip(req)
	if err != nil {
		return nil, transportErr(err)
	}
	return resp, nil
}
