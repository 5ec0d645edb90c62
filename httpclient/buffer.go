package httpclient

import (
	"net/http"
	"sync"
)

// bufferedRoundTripper is the outermost layer: a pool of background workers
// drains a bounded channel of requests, giving the client Clone+Send+Sync
// semantics without external locking at the call site (spec §4.5/§5). A
// configured capacity below 1 is clamped to 1 (spec §8).
//
// The worker pool is sized to workers (callers pass MaxConcurrency), not a
// single goroutine: a lone drainer would serialize every attempt ahead of
// the inner ConcurrencyLimit+LoadShed layer, so saturation would queue here
// instead of surfacing Overloaded as spec §8's fail-fast property requires.
type bufferedRoundTripper struct {
	next  http.RoundTripper
	jobs  chan bufferJob
	once  sync.Once
	done  chan struct{}
	closed bool
	mu     sync.Mutex
}

type bufferJob struct {
	req    *http.Request
	result chan bufferResult
}

type bufferResult struct {
	resp *http.Response
	err  error
}

func newBufferedRoundTripper(next http.RoundTripper, capacity int, workers int64) *bufferedRoundTripper {
	if capacity < 1 {
		capacity = 1
	}
	if workers < 1 {
		workers = 1
	}
	b := &bufferedRoundTripper{
		next: next,
		jobs: make(chan bufferJob, capacity),
		done: make(chan struct{}),
	}
	for i := int64(0); i < workers; i++ {
		go b.run()
	}
	return b
}

func (b *bufferedRoundTripper) run() {
	for job := range b.jobs {
		resp, err := b.next.RoundTrip(job.req)
		job.result <- bufferResult{resp: resp, err: err}
	}
}

// RoundTrip enqueues the request and awaits the worker's result. If the
// buffer has been closed, it returns ServiceClosed.
func (b *bufferedRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	result := make(chan bufferResult, 1)

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil, &Error{Kind: ErrServiceClosed}
	}
	b.mu.Unlock()

	select {
	case b.jobs <- bufferJob{req: req, result: result}:
	case <-b.done:
		return nil, &Error{Kind: ErrServiceClosed}
	case <-req.Context().Done():
		return nil, transportErr(req.Context().Err())
	}

	select {
	case r := <-result:
		return r.resp, r.err
	case <-req.Context().Done():
		return nil, transportErr(req.Context().Err())
	}
}

// Close stops accepting new requests. In-flight requests already enqueued
// continue to drain.
func (b *bufferedRoundTripper) Close() {
	b.once.Do(func() {
		b.mu.Lock()
		b.closed = true
		b.mu.Unlock()
		close(b.done)
		close(b.jobs)
	})
}
