package httpclient

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestBackoff_DelayGrowsAndCaps(t *testing.T) {
	b := Backoff{Initial: 100 * time.Millisecond, Max: 1 * time.Second, Multiplier: 2.0}

	assert.Equal(t, 100*time.Millisecond, b.delay(0))
	assert.Equal(t, 200*time.Millisecond, b.delay(1))
	assert.Equal(t, 400*time.Millisecond, b.delay(2))
	// caps at Max well before overflow
	assert.Equal(t, 1*time.Second, b.delay(10))
}

func TestBackoff_NonFiniteMultiplierTreatedAsOne(t *testing.T) {
	b := Backoff{Initial: 50 * time.Millisecond, Max: time.Second, Multiplier: -1}
	assert.Equal(t, 50*time.Millisecond, b.delay(3))
}

func TestBackoff_JitterStaysWithinBound(t *testing.T) {
	b := Backoff{Initial: 100 * time.Millisecond, Max: time.Second, Multiplier: 1, Jitter: true}
	for i := 0; i < 20; i++ {
		d := b.delay(0)
		assert.GreaterOrEqual(t, d, 100*time.Millisecond)
		assert.LessOrEqual(t, d, 125*time.Millisecond)
	}
}

func TestTriggerSet_Has(t *testing.T) {
	set := NewTriggerSet(TransportErrorTrigger, StatusTrigger(500))
	assert.True(t, set.has(TransportErrorTrigger))
	assert.True(t, set.has(StatusTrigger(500)))
	assert.False(t, set.has(StatusTrigger(404)))
	// NonRetryable never matches, even if present in the set literally.
	set2 := TriggerSet{NonRetryable: struct{}{}}
	assert.False(t, set2.has(NonRetryable))
}

func TestRetryConfig_RetryableForResponse(t *testing.T) {
	cfg := DefaultRetryConfig()

	assert.True(t, cfg.retryableForResponse("GET", 503))
	assert.False(t, cfg.retryableForResponse("GET", 404))
	// 429 is idempotent-only by default
	assert.True(t, cfg.retryableForResponse("GET", 429))
	assert.False(t, cfg.retryableForResponse("POST", 429))
	assert.True(t, cfg.retryableForResponseWithKey("POST", 429, true))
}

func TestParseRetryAfter_Seconds(t *testing.T) {
	d := parseRetryAfter("5")
	if assert.NotNil(t, d) {
		assert.Equal(t, 5*time.Second, *d)
	}
}

func TestParseRetryAfter_Empty(t *testing.T) {
	assert.Nil(t, parseRetryAfter(""))
}

func TestParseRetryAfter_Invalid(t *testing.T) {
	assert.Nil(t, parseRetryAfter("not-a-date-or-seconds"))
}

func TestParseRetryAfter_NegativeClampsToZero(t *testing.T) {
	d := parseRetryAfter("-5")
	if assert.NotNil(t, d) {
		assert.Equal(t, time.Duration(0), *d)
	}
}

func TestIsIdempotentMethod(t *testing.T) {
	assert.True(t, isIdempotentMethod("get"))
	assert.True(t, isIdempotentMethod("DELETE"))
	assert.False(t, isIdempotentMethod("POST"))
}
