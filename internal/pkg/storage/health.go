package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"time"

	"github.com/gofiber/fiber/v2/log"

	"github.com/ManuelReschke/Bookfox/internal/pkg/cache"
)

const healthCacheKey = "storage_health"

// health monitor state
var (
	healthStopCh chan struct{}
)

// Health is the cached result of the last storage check
type Health struct {
	Healthy   bool          `json:"healthy"`
	Latency   time.Duration `json:"latency"`
	Error     string        `json:"error,omitempty"`
	CheckedAt time.Time     `json:"checked_at"`
}

// CheckHealth writes, reads back and deletes a small marker object.
func CheckHealth(ctx context.Context, store ObjectStore) Health {
	start := time.Now()
	h := Health{CheckedAt: start}
	const key = "health/check"
	payload := []byte(start.UTC().Format(time.RFC3339Nano))

	err := store.Put(ctx, key, bytes.NewReader(payload), int64(len(payload)), "text/plain")
	if err == nil {
		var rc io.ReadCloser
		if rc, err = store.Get(ctx, key); err == nil {
			_, err = io.Copy(io.Discard, rc)
			rc.Close()
		}
	}
	if err == nil {
		err = store.Delete(ctx, key)
	}
	h.Latency = time.Since(start)
	if err != nil {
		h.Error = err.Error()
		return h
	}
	h.Healthy = true
	return h
}

// StartHealthMonitor starts a lightweight heartbeat that caches storage health in Redis
func StartHealthMonitor(store ObjectStore, interval time.Duration) {
	if healthStopCh != nil {
		return
	}
	healthStopCh = make(chan struct{})
	stop := healthStopCh
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		log.Infof("[StorageHealth] Monitor started (interval: %v)", interval)

		// run once immediately
		runHealthCheckOnce(store, interval)

		for {
			select {
			case <-stop:
				log.Info("[StorageHealth] Monitor stopped")
				return
			case <-ticker.C:
				runHealthCheckOnce(store, interval)
			}
		}
	}()
}

// StopHealthMonitor stops the heartbeat
func StopHealthMonitor() {
	if healthStopCh != nil {
		close(healthStopCh)
		healthStopCh = nil
	}
}

func runHealthCheckOnce(store ObjectStore, interval time.Duration) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	h := CheckHealth(ctx, store)
	if !h.Healthy {
		log.Warnf("[StorageHealth] Check failed: %s", h.Error)
	}
	b, _ := json.Marshal(h)
	if err := cache.Set(healthCacheKey, string(b), 2*interval); err != nil {
		log.Errorf("[StorageHealth] Cache set failed: %v", err)
	}
}

// CachedHealth returns the last cached result, or false when none is cached.
func CachedHealth() (Health, bool) {
	raw, err := cache.Get(healthCacheKey)
	if err != nil {
		return Health{}, false
	}
	var h Health
	if err := json.Unmarshal([]byte(raw), &h); err != nil {
		return Health{}, false
	}
	return h, true
}
