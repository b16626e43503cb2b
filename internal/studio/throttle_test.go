package studio

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newThrottleController builds a controller with installed suggestions and a
// near-zero inter-fetch delay, so a pass can run synchronously in tests.
func newThrottleController(gw *fakeGateway, onNotice func(string)) *Controller {
	c := NewController(Options{
		Gateway:        gw,
		Wallet:         authedWallet(10),
		ThumbnailDelay: time.Millisecond,
		QuotaCooldown:  15 * time.Second,
		OnNotice:       onNotice,
	})

	c.mu.Lock()
	c.suggestions = normalizeSuggestions(sixPrompts())
	c.hasAnalysis = true
	c.mu.Unlock()
	return c
}

func previewCount(c *Controller) int {
	n := 0
	for _, s := range c.Suggestions() {
		if s.Preview != "" {
			n++
		}
	}
	return n
}

func TestThumbnailPassFillsEachPreviewOnce(t *testing.T) {
	gw := &fakeGateway{}
	c := newThrottleController(gw, nil)

	c.runThumbnailPass(context.Background())

	calls := gw.calls()
	require.Len(t, calls, 6)
	assert.Equal(t, "Simple preview: Hero", calls[0].Prompt)
	assert.True(t, calls[0].Preview)
	assert.Equal(t, 6, previewCount(c))

	// A second pass finds nothing missing.
	c.runThumbnailPass(context.Background())
	assert.Len(t, gw.calls(), 6)
}

func TestThumbnailPassBacksOffOnRateLimit(t *testing.T) {
	gw := &fakeGateway{}
	gw.generateFn = func(prompt string) (string, error) {
		if prompt == "Simple preview: Flat Lay" {
			return "", errors.New("gemini API 429 Too Many Requests")
		}
		return "data:image/png;base64,cGl4ZWxz", nil
	}

	var notices []string
	c := newThrottleController(gw, func(text string) { notices = append(notices, text) })

	c.runThumbnailPass(context.Background())

	// The third fetch hit the limit; the fourth was never attempted.
	assert.Len(t, gw.calls(), 3)
	assert.Equal(t, 2, previewCount(c))
	require.Len(t, notices, 1)
	assert.Equal(t, "The AI is a bit busy. Previews will load once it's free.", notices[0])

	// The cooldown blocks any new pass.
	c.runThumbnailPass(context.Background())
	assert.Len(t, gw.calls(), 3)

	// Once it lapses the remaining previews are picked up, already-fetched
	// ones are not requested again.
	gw.mu.Lock()
	gw.generateFn = nil
	gw.mu.Unlock()
	c.thumbs.mu.Lock()
	c.thumbs.cooldownUntil = time.Now().Add(-time.Second)
	c.thumbs.mu.Unlock()

	c.runThumbnailPass(context.Background())
	assert.Len(t, gw.calls(), 3+4)
	assert.Equal(t, 6, previewCount(c))
}

func TestThumbnailPassSkipsTransientErrors(t *testing.T) {
	gw := &fakeGateway{}
	gw.generateFn = func(prompt string) (string, error) {
		if prompt == "Simple preview: Macro" {
			return "", errors.New("connection reset")
		}
		return "data:image/png;base64,cGl4ZWxz", nil
	}

	c := newThrottleController(gw, nil)
	c.runThumbnailPass(context.Background())

	// One failed, the sweep kept going.
	assert.Len(t, gw.calls(), 6)
	assert.Equal(t, 5, previewCount(c))

	// The failed one is retried on the next pass.
	gw.mu.Lock()
	gw.generateFn = nil
	gw.mu.Unlock()

	c.runThumbnailPass(context.Background())
	assert.Len(t, gw.calls(), 7)
	assert.Equal(t, 6, previewCount(c))
}

func TestThumbnailPassRunsOneAtATime(t *testing.T) {
	gate := make(chan struct{})
	gw := &fakeGateway{generateGate: gate}
	c := newThrottleController(gw, nil)

	done := make(chan struct{})
	go func() {
		defer close(done)
		c.runThumbnailPass(context.Background())
	}()

	require.Eventually(t, func() bool { return len(gw.calls()) == 1 },
		timeoutEventually, tickEventually)

	// While the first pass is parked on the gateway, a second one no-ops.
	c.runThumbnailPass(context.Background())
	assert.Len(t, gw.calls(), 1)

	close(gate)
	<-done
	assert.Equal(t, 6, previewCount(c))
}

func TestThumbnailPassStopsOnContextCancel(t *testing.T) {
	gw := &fakeGateway{}
	var fetched atomic.Int32
	gw.generateFn = func(prompt string) (string, error) {
		fetched.Add(1)
		return "data:image/png;base64,cGl4ZWxz", nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	c := newThrottleController(gw, nil)
	c.runThumbnailPass(ctx)

	// The cancelled context is observed right after the first fetch lands.
	assert.Equal(t, int32(1), fetched.Load())
	assert.Equal(t, 1, previewCount(c))
}
