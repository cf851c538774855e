package costcontrol

import (
	"context"
	"testing"
	"time"

	"github.com/pkoukk/tiktoken-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHeuristicTokens(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected int
	}{
		{"empty", "", 0},
		{"one char", "a", 1},
		{"exact multiple", "abcd", 1},
		{"rounds up", "Hello", 2},
		{"multibyte counts runes", "héllo wörld", 3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, HeuristicTokens(tt.input))
		})
	}
}

func TestEstimator_Heuristic(t *testing.T) {
	e := NewHeuristicEstimator()

	est, err := e.Estimate(context.Background(), []Message{{Role: "user", Content: "Hello"}}, "gpt-3.5-turbo", 0)
	require.NoError(t, err)

	// priming 3 + per-message 3 + "user" 1 + "Hello" 2
	assert.Equal(t, 9, est.Tokens)
	assert.False(t, est.Exact)
	assert.InDelta(t, 9.0/1_000_000*0.5, est.Cost, 1e-12)
}

func TestEstimator_EmptyMessages(t *testing.T) {
	e := NewHeuristicEstimator()

	est, err := e.Estimate(context.Background(), nil, "gpt-4o", 0)
	require.NoError(t, err)
	assert.Equal(t, 0, est.Tokens)
	assert.Equal(t, 0.0, est.Cost)
}

func TestEstimator_OutputTokensPriced(t *testing.T) {
	e := NewHeuristicEstimator()
	msgs := []Message{{Role: "user", Content: "Summarize this"}}

	without, err := e.Estimate(context.Background(), msgs, "gpt-4o", 0)
	require.NoError(t, err)
	with, err := e.Estimate(context.Background(), msgs, "gpt-4o", 1000)
	require.NoError(t, err)

	assert.Equal(t, without.Tokens, with.Tokens)
	assert.InDelta(t, without.Cost+1000.0/1_000_000*10, with.Cost, 1e-12)

	negative, err := e.Estimate(context.Background(), msgs, "gpt-4o", -50)
	require.NoError(t, err)
	assert.Equal(t, without.Cost, negative.Cost)
}

func TestEstimator_UnknownModelUsesConservativePricing(t *testing.T) {
	e := NewHeuristicEstimator()
	msgs := []Message{{Role: "user", Content: "abcdabcdabcd"}}

	est, err := e.Estimate(context.Background(), msgs, "mystery-model", 0)
	require.NoError(t, err)
	assert.InDelta(t, float64(est.Tokens)/1_000_000*15, est.Cost, 1e-12)
}

func TestEstimator_SlowLoadFallsBackToHeuristic(t *testing.T) {
	release := make(chan struct{})
	e := NewEstimator()
	e.loadTimeout = 10 * time.Millisecond
	e.loadFn = func(string) (*tiktoken.Tiktoken, error) {
		<-release
		return nil, ErrUnknownEncoding
	}
	defer close(release)

	start := time.Now()
	est, err := e.Estimate(context.Background(), []Message{{Role: "user", Content: "Hello"}}, "gpt-4o", 0)
	require.NoError(t, err)

	assert.False(t, est.Exact)
	assert.Equal(t, 9, est.Tokens)
	assert.Less(t, time.Since(start), time.Second)
}

func TestEstimator_FailedLoadIsCached(t *testing.T) {
	calls := 0
	e := NewEstimator()
	e.loadFn = func(string) (*tiktoken.Tiktoken, error) {
		calls++
		return nil, ErrUnknownEncoding
	}

	for i := 0; i < 3; i++ {
		_, err := e.Estimate(context.Background(), []Message{{Role: "user", Content: "hi"}}, "gpt-4o", 0)
		require.NoError(t, err)
	}
	assert.Equal(t, 1, calls)
}
