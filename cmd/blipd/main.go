// Command blipd runs a standalone BLIP echo server: it accepts WebSocket
// connections, upgrades them with gobwas/ws, and wires each one to a
// blip.Connection with an Echo profile handler.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"sync/atomic"
	"syscall"

	"github.com/adred-codev/blip/internal/admission"
	"github.com/adred-codev/blip/internal/blip"
	"github.com/adred-codev/blip/internal/config"
	"github.com/adred-codev/blip/internal/logging"
	"github.com/adred-codev/blip/internal/metrics"
	"github.com/adred-codev/blip/internal/sysmon"
	"github.com/adred-codev/blip/internal/transport/gobwasws"
	"github.com/gobwas/ws"
	"github.com/rs/zerolog"

	_ "go.uber.org/automaxprocs"
)

func main() {
	debug := flag.Bool("debug", false, "enable debug logging (overrides LOG_LEVEL)")
	flag.Parse()

	startupLog := log.New(os.Stdout, "[blipd] ", log.LstdFlags)
	startupLog.Printf("GOMAXPROCS: %d (via automaxprocs)", runtime.GOMAXPROCS(0))

	cfg, err := config.Load(nil)
	if err != nil {
		startupLog.Fatalf("failed to load configuration: %v", err)
	}
	if *debug {
		cfg.LogLevel = "debug"
	}

	logSystem := logging.NewLogSystem()
	level := logging.Info
	if cfg.LogLevel == "debug" {
		level = logging.Debug
	}
	logSystem.Domain("BLIP").SetLevel(level)
	logSystem.AddObserver(logging.NewZerologObserver(logging.ZerologConfig{
		Level:   level,
		Pretty:  cfg.LogFormat == "pretty",
		Service: "blipd",
	}))

	zl := zerolog.New(os.Stdout).With().Timestamp().Str("service", "blipd").Logger()
	cfg.LogConfig(zl)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sampler := sysmon.NewSampler(cfg.MetricsInterval)
	go sampler.Run(ctx)

	var activeConns atomic.Int64

	limiter := admission.New(admission.Config{
		GlobalRate:         cfg.ConnRatePerSec,
		GlobalBurst:        cfg.ConnRateBurst,
		MaxConnections:     cfg.MaxConnections,
		ActiveConns:        func() int { return int(activeConns.Load()) },
		CPURejectThreshold: cfg.CPURejectThreshold,
		CPUSource:          sampler.CPUPercent,
		Logger:             zl,
	})
	defer limiter.Stop()

	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	mux.HandleFunc("/health", newHealthHandler(cfg, sampler, &activeConns))
	upgrader := ws.HTTPUpgrader{
		Protocol: func(p string) bool { return p == gobwasws.ProtocolName },
	}
	mux.HandleFunc("/blip", func(w http.ResponseWriter, r *http.Request) {
		if !limiter.Allow(r.RemoteAddr) {
			http.Error(w, "too many connection attempts", http.StatusTooManyRequests)
			return
		}
		conn, _, _, err := upgrader.Upgrade(r, w)
		if err != nil {
			return
		}
		socket := gobwasws.New(conn, zl)
		delegate := &echoDelegate{active: &activeConns}
		blipConn, err := blip.NewConnection(socket, delegate, blip.Options{
			CompressionLevel: cfg.CompressionLevel,
		})
		if err != nil {
			zl.Error().Err(err).Msg("failed to create blip connection")
			_ = conn.Close()
			return
		}
		metrics.ConnectionsTotal.Inc()
		metrics.ConnectionsActive.Inc()
		activeConns.Add(1)
		blipConn.SetRequestHandler("Echo", false, func(req *blip.MessageIn) (*blip.MessageBuilder, error) {
			return &blip.MessageBuilder{Properties: blip.NewProperties(), Body: req.Body()}, nil
		})
		if err := blipConn.Start(); err != nil {
			zl.Error().Err(err).Msg("failed to start blip connection")
		}
	})

	server := &http.Server{Addr: cfg.Addr, Handler: mux}
	go func() {
		zl.Info().Str("addr", cfg.Addr).Msg("blipd listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			zl.Fatal().Err(err).Msg("server failed")
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	zl.Info().Msg("shutting down")
	_ = server.Shutdown(context.Background())
}

// echoDelegate handles only OnClose, where it decrements the
// active-connection count used by admission's MaxConnections check and the
// active-connections gauge; every other lifecycle event is a no-op.
type echoDelegate struct {
	blip.NopConnectionDelegate
	active *atomic.Int64
}

func (d *echoDelegate) OnClose(status int, newState blip.State) {
	d.active.Add(-1)
	metrics.ConnectionsActive.Dec()
}

// newHealthHandler reports liveness the way the teacher's handleHealth
// does: unhealthy (503) if CPU is over the reject threshold or memory is
// over the configured limit, otherwise healthy, with the pause threshold
// surfaced as a warning rather than a failure.
func newHealthHandler(cfg *config.Config, sampler *sysmon.Sampler, activeConns *atomic.Int64) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		cpuPercent := sampler.CPUPercent()
		memBytes := sampler.MemoryBytes()
		conns := activeConns.Load()

		healthy := true
		var warnings, errs []string

		if cpuPercent > cfg.CPURejectThreshold {
			healthy = false
			errs = append(errs, "CPU exceeds reject threshold")
		} else if cpuPercent > cfg.CPUPauseThreshold {
			warnings = append(warnings, "CPU exceeds pause threshold")
		}
		if cfg.MemoryLimit > 0 && int64(memBytes) > cfg.MemoryLimit {
			healthy = false
			errs = append(errs, "memory exceeds configured limit")
		}
		if int(conns) >= cfg.MaxConnections {
			warnings = append(warnings, "at max connections")
		}

		status := http.StatusOK
		if !healthy {
			status = http.StatusServiceUnavailable
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"healthy":      healthy,
			"warnings":     warnings,
			"errors":       errs,
			"cpu_percent":  cpuPercent,
			"memory_bytes": memBytes,
			"active_conns": conns,
			"max_conns":    cfg.MaxConnections,
			"goroutines":   runtime.NumGoroutine(),
		})
	}
}
