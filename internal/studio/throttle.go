package studio

import (
	"context"
	"sync"
	"time"

	"stitch-studio/internal/gemini"
)

// The throttle fills in preview thumbnails for the current suggestion set one
// request at a time: a fixed delay between fetches, and a process-wide
// cooldown after a rate-limit rejection. Missing a preview is cosmetic, so
// everything here is best-effort.

type throttleOptions struct {
	Delay    time.Duration
	Cooldown time.Duration
	OnNotice func(string)
}

type throttle struct {
	mu            sync.Mutex
	running       bool
	cooldownUntil time.Time

	delay    time.Duration
	cooldown time.Duration
	onNotice func(string)
	now      func() time.Time
}

func newThrottle(opts throttleOptions) *throttle {
	delay := opts.Delay
	if delay <= 0 {
		delay = 2500 * time.Millisecond
	}
	cooldown := opts.Cooldown
	if cooldown <= 0 {
		cooldown = 15 * time.Second
	}

	return &throttle{
		delay:    delay,
		cooldown: cooldown,
		onNotice: opts.OnNotice,
		now:      time.Now,
	}
}

func (t *throttle) begin() bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.running || t.now().Before(t.cooldownUntil) {
		return false
	}
	t.running = true
	return true
}

func (t *throttle) end() {
	t.mu.Lock()
	t.running = false
	t.mu.Unlock()
}

func (t *throttle) coolingDown() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.now().Before(t.cooldownUntil)
}

func (t *throttle) backOff() {
	t.mu.Lock()
	t.cooldownUntil = t.now().Add(t.cooldown)
	notify := t.onNotice
	t.mu.Unlock()

	if notify != nil {
		notify(thumbnailNoticeCopy)
	}
}

// runThumbnailPass sweeps the suggestions lacking a preview, in list order.
// A rate-limit error aborts the remainder of the pass and arms the cooldown;
// any other fetch error is swallowed and the sweep continues.
func (c *Controller) runThumbnailPass(ctx context.Context) {
	if !c.thumbs.begin() {
		return
	}
	defer c.thumbs.end()

	reference := c.referenceImage()

	for _, s := range c.missingPreviews() {
		if c.thumbs.coolingDown() {
			return
		}

		preview, err := c.gateway.GenerateImage(ctx, "Simple preview: "+s.Label, reference, true)
		if err != nil {
			if gemini.IsRateLimited(err) {
				c.logger.Warn("thumbnail fetch rate limited", "suggestion", s.ID)
				c.thumbs.backOff()
				return
			}
			c.logger.Debug("thumbnail fetch failed", "suggestion", s.ID, "err", err)
			continue
		}

		c.setPreview(s.ID, preview)

		select {
		case <-ctx.Done():
			return
		case <-time.After(c.thumbs.delay):
		}
	}
}
