package security

import (
	"log/slog"
	"sync"
	"time"

	gocache "github.com/patrickmn/go-cache"
)

const (
	// DefaultMaxRegistrationsPerWindow is the default number of client registrations allowed per IP per window
	DefaultMaxRegistrationsPerWindow = 10

	// DefaultRegistrationWindow is the default time window for registration limiting
	DefaultRegistrationWindow = time.Hour
)

// RegistrationLimiter limits dynamic client registrations per IP address in
// a fixed window that starts with the first registration from that address.
type RegistrationLimiter struct {
	mu           sync.Mutex
	counts       *gocache.Cache
	maxPerWindow int
	window       time.Duration
	logger       *slog.Logger
}

// NewRegistrationLimiter creates a registration limiter.
// Non-positive arguments fall back to the defaults.
func NewRegistrationLimiter(maxPerWindow int, window time.Duration, logger *slog.Logger) *RegistrationLimiter {
	if logger == nil {
		logger = slog.Default()
	}
	if maxPerWindow <= 0 {
		maxPerWindow = DefaultMaxRegistrationsPerWindow
	}
	if window <= 0 {
		window = DefaultRegistrationWindow
	}
	return &RegistrationLimiter{
		counts:       gocache.New(window, time.Minute),
		maxPerWindow: maxPerWindow,
		window:       window,
		logger:       logger,
	}
}

// Allow records a registration attempt from ip and reports whether it is
// within the window's budget.
func (l *RegistrationLimiter) Allow(ip string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.counts.Add(ip, 1, l.window); err == nil {
		return true
	}

	n, err := l.counts.IncrementInt(ip, 1)
	if err != nil {
		// the previous window expired between Add and IncrementInt
		l.counts.Set(ip, 1, l.window)
		return true
	}

	if n > l.maxPerWindow {
		l.logger.Debug("Client registration limit reached",
			"max_per_window", l.maxPerWindow,
			"window", l.window)
		return false
	}
	return true
}

// Remaining returns how many registrations ip may still perform in its current window.
func (l *RegistrationLimiter) Remaining(ip string) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	v, ok := l.counts.Get(ip)
	if !ok {
		return l.maxPerWindow
	}
	used, _ := v.(int)
	if used >= l.maxPerWindow {
		return 0
	}
	return l.maxPerWindow - used
}
