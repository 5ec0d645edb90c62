package httpclient

import (
	"net/http"

	"golang.org/x/sync/semaphore"
)

// loadShedRoundTripper caps in-flight attempts with a weighted semaphore and
// fails fast with Overloaded when saturated, rather than blocking (spec
// §4.5's ConcurrencyLimitLayer + LoadShedLayer pair, and the fail-fast
// invariant in spec §8).
type loadShedRoundTripper struct {
	next http.RoundTripper
	sem  *semaphore.Weighted
}

func newLoadShedRoundTripper(next http.RoundTripper, maxConcurrency int64) *loadShedRoundTripper {
	if maxConcurrency < 1 {
		maxConcurrency = 1
	}
	return &loadShedRoundTripper{next: next, sem: semaphore.NewWeighted(maxConcurrency)}
}

func (rt *loadShedRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	if !rt.sem.TryAcquire(1) {
		return nil, &Error{Kind: ErrOverloaded}
	}
	defer rt.sem.Release(1)
	return rt.next.RoundTrip(req)
}
