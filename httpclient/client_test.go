package httpclient_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/foundrykit/core/httpclient"
)

func plaintextConfig() httpclient.Config {
	cfg := httpclient.DefaultConfig()
	cfg.Transport.SchemePolicy = httpclient.AllowPlaintext
	cfg.AttemptTimeout = 2 * time.Second
	cfg.TotalDeadline = 5 * time.Second
	cfg.Retry.Backoff.Initial = time.Millisecond
	cfg.Retry.Backoff.Max = 5 * time.Millisecond
	return cfg
}

func TestClient_GetJSONRoundTrip(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{"hello": "world"})
	}))
	defer srv.Close()

	c, err := httpclient.New(plaintextConfig())
	require.NoError(t, err)
	defer c.Close()

	resp, err := c.Get(srv.URL).Send()
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.Status())

	out, err := httpclient.JSON[map[string]string](resp)
	require.NoError(t, err)
	assert.Equal(t, "world", out["hello"])
}

func TestClient_RetryExhaustion(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	cfg := plaintextConfig()
	cfg.Retry.MaxRetries = 2
	c, err := httpclient.New(cfg)
	require.NoError(t, err)
	defer c.Close()

	resp, err := c.Get(srv.URL).Send()
	require.NoError(t, err)
	assert.Equal(t, http.StatusServiceUnavailable, resp.Status())
	assert.Equal(t, int32(3), atomic.LoadInt32(&hits))
}

func TestClient_RetryAfterHonored(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&hits, 1)
		if n == 1 {
			w.Header().Set("Retry-After", "0")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	cfg := plaintextConfig()
	cfg.Retry.MaxRetries = 2
	c, err := httpclient.New(cfg)
	require.NoError(t, err)
	defer c.Close()

	resp, err := c.Post(srv.URL).Header("Idempotency-Key", "abc-123").Send()
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.Status())
	assert.Equal(t, int32(2), atomic.LoadInt32(&hits))
}

func TestClient_ErrorForStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte(`{"error":"not found"}`))
	}))
	defer srv.Close()

	c, err := httpclient.New(plaintextConfig())
	require.NoError(t, err)
	defer c.Close()

	resp, err := c.Get(srv.URL).Send()
	require.NoError(t, err)

	_, err = resp.CheckedBytes()
	require.Error(t, err)

	var httpErr *httpclient.Error
	require.ErrorAs(t, err, &httpErr)
	assert.Equal(t, httpclient.ErrHTTPStatus, httpErr.Kind)
	assert.Equal(t, http.StatusNotFound, httpErr.Status)
	assert.Contains(t, httpErr.BodyPreview, "not found")
}

func TestClient_BodyTooLarge(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(make([]byte, 1024))
	}))
	defer srv.Close()

	cfg := plaintextConfig()
	cfg.MaxBodySize = 16
	c, err := httpclient.New(cfg)
	require.NoError(t, err)
	defer c.Close()

	resp, err := c.Get(srv.URL).Send()
	require.NoError(t, err)

	_, err = resp.Bytes()
	require.Error(t, err)
	var httpErr *httpclient.Error
	require.ErrorAs(t, err, &httpErr)
	assert.Equal(t, httpclient.ErrBodyTooLarge, httpErr.Kind)
}

func TestClient_UserAgentDefault(t *testing.T) {
	var gotUA string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUA = r.Header.Get("User-Agent")
	}))
	defer srv.Close()

	cfg := plaintextConfig()
	c, err := httpclient.New(cfg)
	require.NoError(t, err)
	defer c.Close()

	_, err = c.Get(srv.URL).Send()
	require.NoError(t, err)
	assert.Equal(t, cfg.UserAgent, gotUA)
}

func TestClient_PlainHTTPRejectedByDefault(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer srv.Close()

	c, err := httpclient.New(httpclient.DefaultConfig())
	require.NoError(t, err)
	defer c.Close()

	_, err = c.Get(srv.URL).Send()
	require.Error(t, err)
	var httpErr *httpclient.Error
	require.ErrorAs(t, err, &httpErr)
	assert.Equal(t, httpclient.ErrInvalidScheme, httpErr.Kind)
}

func TestClient_SecureRedirectBlocksCrossOrigin(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Location", "http://evil.example.com/steal")
		w.WriteHeader(http.StatusFound)
	}))
	defer srv.Close()

	cfg := plaintextConfig()
	cfg.Redirect.SameOriginOnly = true
	c, err := httpclient.New(cfg)
	require.NoError(t, err)
	defer c.Close()

	_, err = c.Get(srv.URL).Send()
	require.Error(t, err)
	var httpErr *httpclient.Error
	require.ErrorAs(t, err, &httpErr)
	assert.Equal(t, httpclient.ErrInvalidURI, httpErr.Kind)
}

func TestClient_CloseRejectsFurtherRequests(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer srv.Close()

	c, err := httpclient.New(plaintextConfig())
	require.NoError(t, err)
	c.Close()

	_, err = c.Get(srv.URL).Send()
	require.Error(t, err)
	var httpErr *httpclient.Error
	require.ErrorAs(t, err, &httpErr)
	assert.Equal(t, httpclient.ErrServiceClosed, httpErr.Kind)
}
