package costcontrol

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/pkoukk/tiktoken-go"
	"github.com/rs/zerolog/log"

	"github.com/compresr/callrisk/internal/config"
)

// Chat-format overhead: each message is wrapped in role/separator tokens and
// the reply is primed with a few more.
const (
	tokensPerMessage = 3
	tokensForPriming = 3
)

// defaultLoadTimeout bounds how long a caller waits for a BPE file download.
const defaultLoadTimeout = 2 * time.Second

// Message is one chat message of a pending request.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Estimate is the projected size and price of a call.
type Estimate struct {
	Tokens int     `json:"tokens"`
	Cost   float64 `json:"cost"`
	Exact  bool    `json:"exact"` // false when the character heuristic was used
}

// ErrUnknownEncoding is returned when no tokenizer can be loaded for a model.
var ErrUnknownEncoding = errors.New("no tokenizer available")

// Estimator projects token counts and cost before a call is issued.
// Tokenizers are loaded lazily and cached per model; while a tokenizer is
// still loading (or failed to load) the character ratio is used instead.
type Estimator struct {
	mu          sync.Mutex
	encoders    map[string]*tiktoken.Tiktoken
	loading     map[string]chan struct{}
	failed      map[string]error
	loadTimeout time.Duration
	loadFn      func(model string) (*tiktoken.Tiktoken, error)
}

// NewEstimator creates an estimator backed by tiktoken.
func NewEstimator() *Estimator {
	return &Estimator{
		encoders:    make(map[string]*tiktoken.Tiktoken),
		loading:     make(map[string]chan struct{}),
		failed:      make(map[string]error),
		loadTimeout: defaultLoadTimeout,
		loadFn:      loadEncoding,
	}
}

// NewHeuristicEstimator creates an estimator that never loads a tokenizer.
// Token counts come from the characters-per-token ratio only.
func NewHeuristicEstimator() *Estimator {
	e := NewEstimator()
	e.loadFn = func(string) (*tiktoken.Tiktoken, error) { return nil, ErrUnknownEncoding }
	return e
}

// Estimate counts input tokens for messages and prices them for model,
// adding maxOutputTokens at the model's output rate.
func (e *Estimator) Estimate(ctx context.Context, messages []Message, model string, maxOutputTokens int) (Estimate, error) {
	pricing, known := lookupPricing(model)
	if !known {
		log.Debug().Str("model", model).Msg("costcontrol: unknown model, using conservative pricing")
	}
	if maxOutputTokens < 0 {
		maxOutputTokens = 0
	}

	tokens, exact := e.countTokens(ctx, messages, model)
	return Estimate{
		Tokens: tokens,
		Cost:   CalculateCost(tokens, maxOutputTokens, pricing),
		Exact:  exact,
	}, nil
}

func (e *Estimator) countTokens(ctx context.Context, messages []Message, model string) (int, bool) {
	if len(messages) == 0 {
		return 0, true
	}

	enc := e.encoder(ctx, model)
	total := tokensForPriming
	for _, m := range messages {
		total += tokensPerMessage
		if enc != nil {
			total += len(enc.Encode(m.Role, nil, nil))
			total += len(enc.Encode(m.Content, nil, nil))
		} else {
			total += HeuristicTokens(m.Role) + HeuristicTokens(m.Content)
		}
	}
	return total, enc != nil
}

// encoder returns a cached tokenizer, starting a background load on first use.
// Returns nil when the tokenizer isn't ready within the load timeout.
func (e *Estimator) encoder(ctx context.Context, model string) *tiktoken.Tiktoken {
	e.mu.Lock()
	if enc, ok := e.encoders[model]; ok {
		e.mu.Unlock()
		return enc
	}
	if _, ok := e.failed[model]; ok {
		e.mu.Unlock()
		return nil
	}
	done, inFlight := e.loading[model]
	if !inFlight {
		done = make(chan struct{})
		e.loading[model] = done
		go e.load(model, done)
	}
	e.mu.Unlock()

	timer := time.NewTimer(e.loadTimeout)
	defer timer.Stop()
	select {
	case <-done:
	case <-timer.C:
		log.Debug().Str("model", model).Msg("costcontrol: tokenizer still loading, using heuristic")
		return nil
	case <-ctx.Done():
		return nil
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	return e.encoders[model]
}

func (e *Estimator) load(model string, done chan struct{}) {
	enc, err := e.loadFn(model)

	e.mu.Lock()
	if err != nil {
		e.failed[model] = err
		log.Debug().Err(err).Str("model", model).Msg("costcontrol: tokenizer unavailable")
	} else {
		e.encoders[model] = enc
	}
	delete(e.loading, model)
	e.mu.Unlock()
	close(done)
}

func loadEncoding(model string) (*tiktoken.Tiktoken, error) {
	if enc, err := tiktoken.EncodingForModel(model); err == nil {
		return enc, nil
	}
	return tiktoken.GetEncoding(config.DefaultEncoding)
}

// HeuristicTokens approximates a token count from character length.
func HeuristicTokens(s string) int {
	if s == "" {
		return 0
	}
	return (len([]rune(s)) + config.TokenEstimateRatio - 1) / config.TokenEstimateRatio
}
