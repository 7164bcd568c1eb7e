// Package scan drives a scanning session: duplicate-frame suppression, the
// decode-to-ledger pipeline, and the capture poll loop.
package scan

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultCooldown is how long a decoded payload stays suppressed. A QR code
// sits in the camera's field of view across many consecutive frames; without
// suppression each frame would mark attendance again.
const DefaultCooldown = 2 * time.Second

// Debouncer filters repeated decodes of the same payload. The key is the raw
// decoded text, so malformed payloads are debounced too.
type Debouncer interface {
	// ShouldProcess reports whether this payload should go through the
	// pipeline, and arms the cooldown when it does.
	ShouldProcess(ctx context.Context, payload string, now time.Time) bool
	// Reset clears any remembered payload and cancels the pending cooldown
	// timer. Called on session teardown.
	Reset()
}

// MemoryDebouncer remembers the last payload for a single in-process session.
// A different payload inside the window replaces the remembered one and
// re-arms the timer, matching the single-slot behavior of the reference
// scanner.
type MemoryDebouncer struct {
	mu       sync.Mutex
	cooldown time.Duration
	last     string
	deadline time.Time
	timer    *time.Timer
}

// NewMemoryDebouncer creates a debouncer with the given cooldown;
// non-positive means DefaultCooldown.
func NewMemoryDebouncer(cooldown time.Duration) *MemoryDebouncer {
	if cooldown <= 0 {
		cooldown = DefaultCooldown
	}
	return &MemoryDebouncer{cooldown: cooldown}
}

// ShouldProcess suppresses a payload equal to the remembered one while the
// cooldown has not elapsed.
func (d *MemoryDebouncer) ShouldProcess(_ context.Context, payload string, now time.Time) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.last == payload && now.Before(d.deadline) {
		return false
	}
	d.last = payload
	d.deadline = now.Add(d.cooldown)
	if d.timer != nil {
		d.timer.Stop()
	}
	d.timer = time.AfterFunc(d.cooldown, d.expire)
	return true
}

func (d *MemoryDebouncer) expire() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.last = ""
	d.timer = nil
}

// Reset clears the remembered payload and cancels the timer. Safe to call on
// a session that never scanned.
func (d *MemoryDebouncer) Reset() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
	d.last = ""
	d.deadline = time.Time{}
}

// RedisDebouncer suppresses payloads across processes using SET NX with a
// TTL equal to the cooldown. Used when several kiosks share one ledger.
type RedisDebouncer struct {
	client   *redis.Client
	cooldown time.Duration
	prefix   string

	mu      sync.Mutex
	lastKey string
}

// NewRedisDebouncer creates a redis-backed debouncer.
func NewRedisDebouncer(client *redis.Client, cooldown time.Duration) *RedisDebouncer {
	if cooldown <= 0 {
		cooldown = DefaultCooldown
	}
	return &RedisDebouncer{client: client, cooldown: cooldown, prefix: "qrattend:debounce:"}
}

// ShouldProcess claims the payload's cooldown key. Redis errors fail open:
// suppression is a duplicate guard, not a correctness gate, and a dropped
// scan is worse than a repeated rejection.
func (d *RedisDebouncer) ShouldProcess(ctx context.Context, payload string, _ time.Time) bool {
	key := d.prefix + payload
	ok, err := d.client.SetNX(ctx, key, "1", d.cooldown).Result()
	if err != nil {
		log.Printf("debounce redis error, allowing scan: %v", err)
		return true
	}
	if ok {
		d.mu.Lock()
		d.lastKey = key
		d.mu.Unlock()
	}
	return ok
}

// Reset drops the most recent cooldown key so the next session starts clean.
func (d *RedisDebouncer) Reset() {
	d.mu.Lock()
	key := d.lastKey
	d.lastKey = ""
	d.mu.Unlock()
	if key == "" {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := d.client.Del(ctx, key).Err(); err != nil {
		log.Printf("debounce reset failed: %v", err)
	}
}
