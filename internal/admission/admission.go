// Package admission rate-limits incoming BLIP connection attempts, both
// per-peer and system-wide, using a token bucket so legitimate
// reconnection bursts still get through.
package admission

import (
	"sync"
	"time"

	"github.com/adred-codev/blip/internal/metrics"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

// Limiter admits or rejects a connection attempt from a given peer key
// (typically a remote IP), subject to a global and a per-peer rate, a
// static connection-count ceiling, and a host CPU safety valve — the
// same three layers the teacher's ResourceGuard applies before a new
// connection is allowed to attach.
type Limiter struct {
	peerMu    sync.RWMutex
	peers     map[string]*peerEntry
	peerBurst int
	peerRate  float64
	peerTTL   time.Duration

	global      *rate.Limiter
	globalBurst int
	globalRate  float64

	maxConnections     int
	activeConns        func() int
	cpuRejectThreshold float64
	cpuSource          func() float64

	logger zerolog.Logger

	ticker *time.Ticker
	stop   chan struct{}
}

type peerEntry struct {
	limiter    *rate.Limiter
	lastAccess time.Time
}

// Config configures a Limiter. Zero values take the listed defaults.
type Config struct {
	PeerBurst   int           // max burst connections per peer (default 10)
	PeerRate    float64       // sustained connections/sec per peer (default 1.0)
	PeerTTL     time.Duration // idle time after which a peer's limiter is evicted (default 5m)
	GlobalBurst int           // max burst connections system-wide (default 300)
	GlobalRate  float64       // sustained connections/sec system-wide (default 50.0)

	// MaxConnections caps total active connections; 0 disables the check.
	// ActiveConns must be set whenever MaxConnections is non-zero.
	MaxConnections int
	ActiveConns    func() int

	// CPURejectThreshold rejects new connections once host CPU usage
	// exceeds this percentage; 0 disables the check. CPUSource must be
	// set whenever CPURejectThreshold is non-zero.
	CPURejectThreshold float64
	CPUSource          func() float64

	Logger zerolog.Logger
}

// New builds a Limiter and starts its background eviction loop. Call Stop
// to release it.
func New(cfg Config) *Limiter {
	if cfg.PeerBurst == 0 {
		cfg.PeerBurst = 10
	}
	if cfg.PeerRate == 0 {
		cfg.PeerRate = 1.0
	}
	if cfg.PeerTTL == 0 {
		cfg.PeerTTL = 5 * time.Minute
	}
	if cfg.GlobalBurst == 0 {
		cfg.GlobalBurst = 300
	}
	if cfg.GlobalRate == 0 {
		cfg.GlobalRate = 50.0
	}
	l := &Limiter{
		peers:              map[string]*peerEntry{},
		peerBurst:          cfg.PeerBurst,
		peerRate:           cfg.PeerRate,
		peerTTL:            cfg.PeerTTL,
		global:             rate.NewLimiter(rate.Limit(cfg.GlobalRate), cfg.GlobalBurst),
		globalBurst:        cfg.GlobalBurst,
		globalRate:         cfg.GlobalRate,
		maxConnections:     cfg.MaxConnections,
		activeConns:        cfg.ActiveConns,
		cpuRejectThreshold: cfg.CPURejectThreshold,
		cpuSource:          cfg.CPUSource,
		logger:             cfg.Logger.With().Str("component", "admission").Logger(),
		stop:               make(chan struct{}),
	}
	l.ticker = time.NewTicker(time.Minute)
	go l.evictLoop()
	l.logger.Info().
		Int("peer_burst", cfg.PeerBurst).
		Float64("peer_rate", cfg.PeerRate).
		Int("global_burst", cfg.GlobalBurst).
		Float64("global_rate", cfg.GlobalRate).
		Msg("admission limiter initialized")
	return l
}

// Allow reports whether a new connection from peerKey should be admitted.
// Static safety valves (connection count, host CPU) are checked first,
// cheapest first, before the rate limiters — a loaded host should reject
// on capacity, not merely slow down.
func (l *Limiter) Allow(peerKey string) bool {
	if l.maxConnections > 0 && l.activeConns != nil && l.activeConns() >= l.maxConnections {
		metrics.ConnectionsRejected.WithLabelValues("max_connections").Inc()
		l.logger.Warn().Str("peer", peerKey).Int("max_connections", l.maxConnections).
			Msg("connection rejected: at max connections")
		return false
	}
	if l.cpuRejectThreshold > 0 && l.cpuSource != nil {
		if cpu := l.cpuSource(); cpu > l.cpuRejectThreshold {
			metrics.ConnectionsRejected.WithLabelValues("cpu_threshold").Inc()
			l.logger.Warn().Str("peer", peerKey).
				Float64("cpu_percent", cpu).Float64("threshold", l.cpuRejectThreshold).
				Msg("connection rejected: CPU exceeds reject threshold")
			return false
		}
	}
	if !l.global.Allow() {
		metrics.ConnectionsRejected.WithLabelValues("global_rate").Inc()
		l.logger.Debug().Str("peer", peerKey).Msg("connection rejected: global rate limit exceeded")
		return false
	}
	if !l.peerLimiter(peerKey).Allow() {
		metrics.ConnectionsRejected.WithLabelValues("peer_rate").Inc()
		l.logger.Debug().Str("peer", peerKey).Msg("connection rejected: per-peer rate limit exceeded")
		return false
	}
	return true
}

func (l *Limiter) peerLimiter(key string) *rate.Limiter {
	l.peerMu.RLock()
	entry, ok := l.peers[key]
	l.peerMu.RUnlock()
	if ok {
		l.peerMu.Lock()
		entry.lastAccess = time.Now()
		l.peerMu.Unlock()
		return entry.limiter
	}

	l.peerMu.Lock()
	defer l.peerMu.Unlock()
	if entry, ok = l.peers[key]; ok {
		entry.lastAccess = time.Now()
		return entry.limiter
	}
	limiter := rate.NewLimiter(rate.Limit(l.peerRate), l.peerBurst)
	l.peers[key] = &peerEntry{limiter: limiter, lastAccess: time.Now()}
	return limiter
}

func (l *Limiter) evictLoop() {
	for {
		select {
		case <-l.ticker.C:
			l.evict()
		case <-l.stop:
			l.ticker.Stop()
			return
		}
	}
}

func (l *Limiter) evict() {
	l.peerMu.Lock()
	defer l.peerMu.Unlock()
	now := time.Now()
	for key, entry := range l.peers {
		if now.Sub(entry.lastAccess) > l.peerTTL {
			delete(l.peers, key)
		}
	}
}

// Stop halts the eviction loop.
func (l *Limiter) Stop() {
	close(l.stop)
}
