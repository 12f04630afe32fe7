// Package ratelimit implements a fixed-window in-memory limiter keyed by
// client address.
package ratelimit

import (
	"net"
	"net/http"
	"strings"
	"sync"
	"time"
)

// Config holds rate limiting configuration
type Config struct {
	WindowSize    time.Duration // Time window for rate limiting
	MaxRequests   int           // Maximum requests per window
	CleanupPeriod time.Duration // How often to clean up old entries
}

// DefaultSendConfig bounds how fast one client can spend inference calls.
func DefaultSendConfig() *Config {
	return &Config{
		WindowSize:    time.Minute,
		MaxRequests:   20,
		CleanupPeriod: 5 * time.Minute,
	}
}

type window struct {
	count int
	start time.Time
}

// Info describes the limiter state for one identifier after a request.
type Info struct {
	Allowed    bool
	Limit      int
	Remaining  int
	ResetTime  time.Time
	RetryAfter time.Duration
}

// MemoryRateLimiter implements in-memory rate limiting
type MemoryRateLimiter struct {
	config  *Config
	windows map[string]*window
	mu      sync.Mutex
	now     func() time.Time
	stopCh  chan struct{}
	stopped sync.Once
}

func NewMemoryRateLimiter(config *Config) *MemoryRateLimiter {
	limiter := &MemoryRateLimiter{
		config:  config,
		windows: make(map[string]*window),
		now:     time.Now,
		stopCh:  make(chan struct{}),
	}

	go limiter.cleanupLoop()

	return limiter
}

// Allow counts a request from identifier and reports whether it fits in
// the current window.
func (rl *MemoryRateLimiter) Allow(identifier string) Info {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	w, ok := rl.windows[identifier]
	if !ok || now.Sub(w.start) >= rl.config.WindowSize {
		w = &window{start: now}
		rl.windows[identifier] = w
	}

	reset := w.start.Add(rl.config.WindowSize)
	if w.count >= rl.config.MaxRequests {
		return Info{
			Allowed:    false,
			Limit:      rl.config.MaxRequests,
			Remaining:  0,
			ResetTime:  reset,
			RetryAfter: reset.Sub(now),
		}
	}

	w.count++
	return Info{
		Allowed:   true,
		Limit:     rl.config.MaxRequests,
		Remaining: rl.config.MaxRequests - w.count,
		ResetTime: reset,
	}
}

func (rl *MemoryRateLimiter) cleanupLoop() {
	ticker := time.NewTicker(rl.config.CleanupPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			rl.cleanup()
		case <-rl.stopCh:
			return
		}
	}
}

// cleanup removes expired windows
func (rl *MemoryRateLimiter) cleanup() {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	for id, w := range rl.windows {
		if now.Sub(w.start) >= rl.config.WindowSize {
			delete(rl.windows, id)
		}
	}
}

// Close stops the cleanup goroutine
func (rl *MemoryRateLimiter) Close() {
	rl.stopped.Do(func() { close(rl.stopCh) })
}

// GetClientIP extracts the real client IP from request
func GetClientIP(r *http.Request) string {
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		if ip := strings.TrimSpace(strings.Split(forwarded, ",")[0]); ip != "" {
			return ip
		}
	}

	if realIP := r.Header.Get("X-Real-IP"); realIP != "" {
		return realIP
	}

	ip, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return ip
}
