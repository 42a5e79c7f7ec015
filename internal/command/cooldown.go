package command

import (
	"time"

	"github.com/jellydator/ttlcache/v3"
)

// CooldownTracker remembers the last successful invocation per
// command+sender pair. Entries expire on their own once the window
// passes, so the tracker stays bounded without a sweep loop.
type CooldownTracker struct {
	cache *ttlcache.Cache[string, time.Time]
}

// NewCooldownTracker starts the tracker's expiry loop. Call Stop when done.
func NewCooldownTracker() *CooldownTracker {
	cache := ttlcache.New[string, time.Time]()
	go cache.Start()
	return &CooldownTracker{cache: cache}
}

func cooldownKey(command, senderID string) string {
	return command + "|" + senderID
}

// Remaining reports how long the sender must still wait before running
// the command again. Zero means no active cooldown.
func (t *CooldownTracker) Remaining(command, senderID string, window time.Duration) time.Duration {
	item := t.cache.Get(cooldownKey(command, senderID), ttlcache.WithDisableTouchOnHit[string, time.Time]())
	if item == nil {
		return 0
	}
	elapsed := time.Since(item.Value())
	if elapsed >= window {
		return 0
	}
	return window - elapsed
}

// Record marks the command as just invoked by the sender.
func (t *CooldownTracker) Record(command, senderID string, window time.Duration) {
	t.cache.Set(cooldownKey(command, senderID), time.Now(), window)
}

// Stop halts the expiry loop.
func (t *CooldownTracker) Stop() {
	t.cache.Stop()
}
