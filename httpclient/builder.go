package httpclient

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"
)

// RequestBuilder accumulates headers and a body before Send(), mirroring the
// fluent builder the teacher uses for outbound requests.
type RequestBuilder struct {
	client  *Client
	ctx     context.Context
	method  string
	url     string
	headers http.Header
	query   url.Values
	body    io.Reader
	bodyLen int64
	err     error
}

// Context attaches ctx to the eventual request. Defaults to
// context.Background() if never called.
func (b *RequestBuilder) Context(ctx context.Context) *RequestBuilder {
	b.ctx = ctx
	return b
}

func (b *RequestBuilder) Header(key, value string) *RequestBuilder {
	b.headers.Set(key, value)
	return b
}

func (b *RequestBuilder) AddHeader(key, value string) *RequestBuilder {
	b.headers.Add(key, value)
	return b
}

func (b *RequestBuilder) Headers(h map[string]string) *RequestBuilder {
	for k, v := range h {
		b.headers.Set(k, v)
	}
	return b
}

func (b *RequestBuilder) Query(key, value string) *RequestBuilder {
	if b.query == nil {
		b.query = url.Values{}
	}
	b.query.Set(key, value)
	return b
}

// JSON marshals v as the request body and sets Content-Type: application/json.
func (b *RequestBuilder) JSON(v any) *RequestBuilder {
	buf, err := json.Marshal(v)
	if err != nil {
		b.err = &Error{Kind: ErrJSON, Cause: err}
		return b
	}
	b.headers.Set("Content-Type", "application/json")
	b.body = bytes.NewReader(buf)
	b.bodyLen = int64(len(buf))
	return b
}

// Form encodes values as application/x-www-form-urlencoded.
func (b *RequestBuilder) Form(values url.Values) *RequestBuilder {
	encoded := values.Encode()
	b.headers.Set("Content-Type", "application/x-www-form-urlencoded")
	b.body = strings.NewReader(encoded)
	b.bodyLen = int64(len(encoded))
	return b
}

func (b *RequestBuilder) BodyBytes(data []byte) *RequestBuilder {
	b.body = bytes.NewReader(data)
	b.bodyLen = int64(len(data))
	return b
}

func (b *RequestBuilder) BodyString(s string) *RequestBuilder {
	b.body = strings.NewReader(s)
	b.bodyLen = int64(len(s))
	return b
}

// Send issues the request through the composed layer stack and wraps the
// result. A non-nil error is always an *Error (transport, timeout, deadline,
// TLS, URI, scheme, overload or closed, or ErrJSON when JSON() could not
// marshal its value); HTTP error statuses are returned as a successful
// Response.
func (b *RequestBuilder) Send() (*Response, error) {
	if b.err != nil {
		return nil, b.err
	}

	reqURL := b.url
	if b.query != nil {
		sep := "?"
		if strings.Contains(reqURL, "?") {
			sep = "&"
		}
		reqURL = reqURL + sep + b.query.Encode()
	}

	ctx := b.ctx
	if ctx == nil {
		ctx = context.Background()
	}

	req, err := http.NewRequestWithContext(ctx, b.method, reqURL, b.body)
	if err != nil {
		return nil, invalidURIErr(reqURL, err.Error())
	}
	req.Header = b.headers
	if b.bodyLen > 0 {
		req.ContentLength = b.bodyLen
	}

	resp, err := b.client.http.Do(req)
	if err != nil {
		if clientErr, ok := err.(*url.Error); ok {
			if inner, ok := clientErr.Unwrap().(*Error); ok {
				return nil, inner
			}
			return nil, transportErr(clientErr)
		}
		return nil, transportErr(err)
	}
	return &Response{raw: resp, maxBodySize: b.client.cfg.MaxBodySize}, nil
}
