package monitor

import (
	"log/slog"
	"sync"
	"time"

	"github.com/patrickmn/go-cache"
)

// Provider status values reported by GetProviderStatus
const (
	StatusNormal    = "Normal"
	StatusWarning   = "Warning"
	StatusThrottled = "Throttled"
)

// windowDurations maps limit window names onto their length
var windowDurations = map[string]time.Duration{
	"minute": time.Minute,
	"hour":   time.Hour,
	"day":    24 * time.Hour,
}

// AIProviderRateLimiter is the view of the rate limit manager used by AI providers
type AIProviderRateLimiter interface {
	RegisterCall(providerID string) error
	GetProviderUsage(providerID string) (int, int)
	GetProviderStatus(providerID string) string
}

// ProviderConfig holds the call limits for one provider
type ProviderConfig struct {
	ProviderID string
	Limits     map[string]int     // window name ("minute", "hour", "day") -> max calls
	Thresholds map[string]float64 // "warning" and "throttled" as fractions of a limit
}

// ProviderRateLimitState tracks recent calls per window for one provider
type ProviderRateLimitState struct {
	ProviderID  string
	Limits      map[string]int
	Thresholds  map[string]float64
	TimeWindows map[string][]time.Time
	LastStatus  string
	Mutex       sync.RWMutex
}

// StatusCallback is invoked when a provider's status changes
type StatusCallback func(providerID, status string)

// RateLimitManager tracks AI provider usage and upstream cooldowns
type RateLimitManager struct {
	logger    *slog.Logger
	providers map[string]*ProviderRateLimitState
	cooldowns *cache.Cache
	callbacks []StatusCallback
	mu        sync.RWMutex
	now       func() time.Time
}

// NewRateLimitManager creates a manager for the given providers
func NewRateLimitManager(logger *slog.Logger, configs []ProviderConfig) *RateLimitManager {
	manager := &RateLimitManager{
		logger:    logger,
		providers: make(map[string]*ProviderRateLimitState),
		cooldowns: cache.New(cache.NoExpiration, 10*time.Minute),
		now:       time.Now,
	}

	for _, config := range configs {
		state := &ProviderRateLimitState{
			ProviderID:  config.ProviderID,
			Limits:      make(map[string]int),
			Thresholds:  map[string]float64{"warning": 0.75, "throttled": 1.0},
			TimeWindows: make(map[string][]time.Time),
			LastStatus:  StatusNormal,
		}
		for window, limit := range config.Limits {
			if _, ok := windowDurations[window]; !ok {
				logger.Warn("Ignoring unknown rate limit window",
					"provider", config.ProviderID,
					"window", window)
				continue
			}
			state.Limits[window] = limit
			state.TimeWindows[window] = []time.Time{}
		}
		for name, value := range config.Thresholds {
			state.Thresholds[name] = value
		}
		manager.providers[config.ProviderID] = state
	}

	return manager
}

// RegisterStatusCallback adds a callback fired on provider status changes
func (m *RateLimitManager) RegisterStatusCallback(callback StatusCallback) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.callbacks = append(m.callbacks, callback)
}

// GetProviderState returns the raw state for a provider
func (m *RateLimitManager) GetProviderState(providerID string) (*ProviderRateLimitState, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	state, ok := m.providers[providerID]
	return state, ok
}

// RegisterCall records one call for providerID. Unknown providers are ignored.
func (m *RateLimitManager) RegisterCall(providerID string) error {
	state, ok := m.GetProviderState(providerID)
	if !ok {
		m.logger.Debug("Rate limit call for unknown provider", "provider", providerID)
		return nil
	}

	now := m.now()

	state.Mutex.Lock()
	for window := range state.Limits {
		state.TimeWindows[window] = append(pruneWindow(state.TimeWindows[window], window, now), now)
	}
	status := state.statusLocked()
	changed := status != state.LastStatus
	state.LastStatus = status
	state.Mutex.Unlock()

	if changed {
		m.logger.Info("AI provider rate limit status changed",
			"provider", providerID,
			"status", status)
		m.notify(providerID, status)
	}

	return nil
}

// GetProviderUsage returns calls in the last minute and the per-minute limit
func (m *RateLimitManager) GetProviderUsage(providerID string) (int, int) {
	state, ok := m.GetProviderState(providerID)
	if !ok {
		return 0, 0
	}

	now := m.now()

	state.Mutex.Lock()
	defer state.Mutex.Unlock()

	limit, ok := state.Limits["minute"]
	if !ok {
		return 0, 0
	}
	state.TimeWindows["minute"] = pruneWindow(state.TimeWindows["minute"], "minute", now)
	return len(state.TimeWindows["minute"]), limit
}

// GetProviderStatus reports Normal, Warning or Throttled based on the most
// loaded window
func (m *RateLimitManager) GetProviderStatus(providerID string) string {
	state, ok := m.GetProviderState(providerID)
	if !ok {
		return StatusNormal
	}

	now := m.now()

	state.Mutex.Lock()
	defer state.Mutex.Unlock()

	for window := range state.Limits {
		state.TimeWindows[window] = pruneWindow(state.TimeWindows[window], window, now)
	}
	return state.statusLocked()
}

// SetCooldown blocks key until the given time. Past times clear the cooldown.
func (m *RateLimitManager) SetCooldown(key string, until time.Time) {
	ttl := until.Sub(m.now())
	if ttl <= 0 {
		m.cooldowns.Delete(key)
		return
	}
	m.cooldowns.Set(key, until, ttl)
	m.logger.Info("Cooldown set",
		"key", key,
		"until", until.Format(time.RFC3339),
		"wait", ttl.Round(time.Second))
}

// Cooldown reports whether key is cooling down and until when
func (m *RateLimitManager) Cooldown(key string) (time.Time, bool) {
	value, found := m.cooldowns.Get(key)
	if !found {
		return time.Time{}, false
	}
	until := value.(time.Time)
	if !m.now().Before(until) {
		m.cooldowns.Delete(key)
		return time.Time{}, false
	}
	return until, true
}

func (m *RateLimitManager) notify(providerID, status string) {
	m.mu.RLock()
	callbacks := append([]StatusCallback(nil), m.callbacks...)
	m.mu.RUnlock()

	for _, callback := range callbacks {
		callback(providerID, status)
	}
}

// statusLocked computes the status; the caller holds the state mutex
func (s *ProviderRateLimitState) statusLocked() string {
	var maxRatio float64
	for window, limit := range s.Limits {
		if limit <= 0 {
			continue
		}
		ratio := float64(len(s.TimeWindows[window])) / float64(limit)
		if ratio > maxRatio {
			maxRatio = ratio
		}
	}

	switch {
	case maxRatio >= s.Thresholds["throttled"]:
		return StatusThrottled
	case maxRatio >= s.Thresholds["warning"]:
		return StatusWarning
	default:
		return StatusNormal
	}
}

// pruneWindow drops timestamps older than the window length
func pruneWindow(calls []time.Time, window string, now time.Time) []time.Time {
	cutoff := now.Add(-windowDurations[window])
	kept := calls[:0]
	for _, call := range calls {
		if call.After(cutoff) {
			kept = append(kept, call)
		}
	}
	return kept
}
