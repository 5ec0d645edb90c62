package httpclient

import (
	"encoding/json"
	"io"
	"net/http"
)

// Response wraps the underlying *http.Response, enforcing the configured
// max body size on the buffered accessors while leaving Stream() available
// for callers that need to bypass the cap (e.g. server-sent events).
type Response struct {
	raw         *http.Response
	maxBodySize int64

	buffered   []byte
	bufferErr  error
	haveBuffer bool
}

func (r *Response) Status() int { return r.raw.StatusCode }

func (r *Response) Header(key string) string { return r.raw.Header.Get(key) }

func (r *Response) Headers() http.Header { return r.raw.Header }

// Stream returns the raw response body unbuffered and uncapped. The caller
// is responsible for closing it. Calling Stream after Bytes/Text/JSON returns
// the body those calls already read and closed.
func (r *Response) Stream() io.ReadCloser { return r.raw.Body }

// Bytes reads the full body, enforcing maxBodySize if configured.
func (r *Response) Bytes() ([]byte, error) {
	if r.haveBuffer {
		return r.buffered, r.bufferErr
	}
	r.haveBuffer = true
	defer r.raw.Body.Close()

	if r.maxBodySize <= 0 {
		r.buffered, r.bufferErr = io.ReadAll(r.raw.Body)
		return r.buffered, r.bufferErr
	}

	limited := io.LimitReader(r.raw.Body, r.maxBodySize+1)
	data, err := io.ReadAll(limited)
	if err != nil {
		r.bufferErr = err
		return nil, err
	}
	if int64(len(data)) > r.maxBodySize {
		r.bufferErr = &Error{Kind: ErrBodyTooLarge, Limit: r.maxBodySize, Actual: int64(len(data))}
		return nil, r.bufferErr
	}
	r.buffered = data
	return data, nil
}

// CheckedBytes is Bytes() followed by ErrorForStatus(); it's the common path
// for callers that want a single failure check.
func (r *Response) CheckedBytes() ([]byte, error) {
	if err := r.ErrorForStatus(); err != nil {
		return nil, err
	}
	return r.Bytes()
}

func (r *Response) Text() (string, error) {
	b, err := r.Bytes()
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// JSON decodes the body into a T. It is a package-level function, not a
// method, because Go methods can't carry their own type parameters.
func JSON[T any](r *Response) (T, error) {
	var out T
	b, err := r.Bytes()
	if err != nil {
		return out, err
	}
	if err := json.Unmarshal(b, &out); err != nil {
		return out, &Error{Kind: ErrJSON, Cause: err}
	}
	return out, nil
}

// ErrorForStatus returns an ErrHTTPStatus *Error with a preview of the body
// when the status is >= 400, nil otherwise.
func (r *Response) ErrorForStatus() error {
	if r.raw.StatusCode < 400 {
		return nil
	}
	preview, _ := r.Bytes()
	if len(preview) > bodyPreviewLimit {
		preview = preview[:bodyPreviewLimit]
	}
	retryAfter := parseRetryAfter(r.raw.Header.Get("Retry-After"))
	return &Error{
		Kind:        ErrHTTPStatus,
		Status:      r.raw.StatusCode,
		BodyPreview: string(preview),
		ContentType: r.raw.Header.Get("Content-Type"),
		RetryAfter:  retryAfter,
	}
}
