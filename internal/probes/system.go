// Package probes reads live system and workspace signals for the risk engine.
//
// DESIGN: Each probe method is independent, honors its context deadline and
// returns an error instead of a guess. Callers substitute safe defaults; a
// probe never decides what "unknown" means.
package probes

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"os/exec"
	"runtime"
	"strconv"
	"strings"
	"time"
)

// ErrNoTarget is returned by NetworkLatencyMs when no target is configured.
var ErrNoTarget = errors.New("no latency target configured")

// System probes the current process and network.
type System struct {
	pid           int
	latencyTarget string
	dialer        net.Dialer
}

// NewSystem creates a system probe. latencyTarget is a host:port dialed to
// measure round-trip connect latency.
func NewSystem(latencyTarget string) *System {
	return &System{
		pid:           os.Getpid(),
		latencyTarget: latencyTarget,
	}
}

// MemoryUsageMB returns heap memory in use by this process.
func (s *System) MemoryUsageMB(ctx context.Context) (float64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	return float64(m.HeapAlloc) / (1024 * 1024), nil
}

// CPUUsagePercent returns this process's CPU usage as reported by ps.
func (s *System) CPUUsagePercent(ctx context.Context) (float64, error) {
	cmd := exec.CommandContext(ctx, "ps", "-p", strconv.Itoa(s.pid), "-o", "%cpu=")
	out, err := cmd.Output()
	if err != nil {
		return 0, fmt.Errorf("ps failed for pid %d: %w", s.pid, err)
	}
	return parseCPU(string(out))
}

func parseCPU(out string) (float64, error) {
	field := strings.TrimSpace(out)
	if field == "" {
		return 0, fmt.Errorf("empty ps output")
	}
	// Some locales print a decimal comma.
	field = strings.ReplaceAll(field, ",", ".")
	cpu, err := strconv.ParseFloat(field, 64)
	if err != nil {
		return 0, fmt.Errorf("unexpected ps output %q: %w", field, err)
	}
	return cpu, nil
}

// NetworkLatencyMs returns the TCP connect time to the latency target.
func (s *System) NetworkLatencyMs(ctx context.Context) (float64, error) {
	if s.latencyTarget == "" {
		return 0, ErrNoTarget
	}
	start := time.Now()
	conn, err := s.dialer.DialContext(ctx, "tcp", s.latencyTarget)
	if err != nil {
		return 0, fmt.Errorf("dial %s: %w", s.latencyTarget, err)
	}
	elapsed := time.Since(start)
	_ = conn.Close()
	return float64(elapsed.Microseconds()) / 1000, nil
}
