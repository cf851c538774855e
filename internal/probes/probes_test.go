package probes

import (
	"context"
	"errors"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseCPU(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    float64
		wantErr bool
	}{
		{"plain", " 12.5\n", 12.5, false},
		{"decimal comma", "3,2", 3.2, false},
		{"zero", "0.0", 0, false},
		{"empty", "  \n", 0, true},
		{"garbage", "n/a", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseCPU(tt.input)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.InDelta(t, tt.want, got, 1e-9)
		})
	}
}

func TestSystem_MemoryUsage(t *testing.T) {
	s := NewSystem("")

	mb, err := s.MemoryUsageMB(context.Background())
	require.NoError(t, err)
	assert.Greater(t, mb, 0.0)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = s.MemoryUsageMB(ctx)
	assert.Error(t, err)
}

func TestSystem_NetworkLatency(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer func() { _ = ln.Close() }()
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			_ = conn.Close()
		}
	}()

	s := NewSystem(ln.Addr().String())
	ms, err := s.NetworkLatencyMs(context.Background())
	require.NoError(t, err)
	assert.GreaterOrEqual(t, ms, 0.0)
	assert.Less(t, ms, 5000.0)
}

func TestSystem_NetworkLatencyNoTarget(t *testing.T) {
	_, err := NewSystem("").NetworkLatencyMs(context.Background())
	assert.ErrorIs(t, err, ErrNoTarget)
}

func TestSystem_NetworkLatencyHonorsDeadline(t *testing.T) {
	// 192.0.2.0/24 is TEST-NET-1: unroutable, so the dial can only end by deadline or refusal.
	s := NewSystem("192.0.2.1:9")
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := s.NetworkLatencyMs(ctx)
	assert.Error(t, err)
	assert.Less(t, time.Since(start), 2*time.Second)
}

// fakeGit answers git subcommands from a table keyed by the first argument.
func fakeGit(answers map[string]string, failing ...string) func(context.Context, string, ...string) (string, error) {
	return func(_ context.Context, _ string, args ...string) (string, error) {
		for _, f := range failing {
			if args[0] == f {
				return "", errors.New("exit status 128")
			}
		}
		return answers[args[0]], nil
	}
}

func TestGit_Probe(t *testing.T) {
	g := NewGit("/repo")
	g.run = fakeGit(map[string]string{
		"rev-parse": "true",
		"branch":    "feature/risk",
		"status":    " M main.go\n?? notes.txt",
		"log":       "abc1234 Add risk engine",
	})
	ctx := context.Background()

	branch, err := g.CurrentBranch(ctx)
	require.NoError(t, err)
	assert.Equal(t, "feature/risk", branch)

	status, err := g.Status(ctx)
	require.NoError(t, err)
	assert.True(t, status.Dirty)
	assert.Equal(t, 2, status.UncommittedCount)

	summary, err := g.LastCommitSummary(ctx)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(summary, "abc1234"))
}

func TestGit_CleanTree(t *testing.T) {
	g := NewGit("/repo")
	g.run = fakeGit(map[string]string{"rev-parse": "true", "status": ""})

	status, err := g.Status(context.Background())
	require.NoError(t, err)
	assert.False(t, status.Dirty)
	assert.Equal(t, 0, status.UncommittedCount)
}

func TestGit_NotRepository(t *testing.T) {
	g := NewGit("/tmp")
	g.run = fakeGit(nil, "rev-parse")

	_, err := g.CurrentBranch(context.Background())
	assert.ErrorIs(t, err, ErrNotRepository)
	assert.False(t, g.IsRepository(context.Background()))
}
