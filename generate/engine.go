// Package generate orchestrates budget fitting and model inference for a
// single GGUF model: normalize the prompt, tokenize it, fit it into the
// token budget, and hand the window to the model runtime.
package generate

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jellydator/ttlcache/v3"

	ggufai "github.com/ggufai/ggufai"
	"github.com/ggufai/ggufai/budget"
	"github.com/ggufai/ggufai/model"
	"github.com/ggufai/ggufai/model/llamacpp"
	"github.com/ggufai/ggufai/model/llamaserver"
	"github.com/ggufai/ggufai/textnorm"
)

const (
	tokenCacheTTL  = 10 * time.Minute
	tokenCacheSize = 1024
)

// Engine owns one loaded model runtime and the budgeting policy applied to
// every call. It is synchronous: each Infer blocks until the runtime
// returns. Concurrent use is delegated to the runtime, as the engine adds no
// locking of its own.
type Engine struct {
	cfg       *ggufai.Config
	rt        model.Runtime
	adjuster  budget.Adjuster
	normalize textnorm.Rule

	// tokens caches encode results keyed by content hash; a single call
	// would otherwise tokenize the same prompt for the limit check and again
	// for inference.
	tokens *ttlcache.Cache[string, []int]
}

// NewEngine validates cfg, opens the backend it selects, and returns a ready
// engine. Validation failures surface as *ggufai.ConfigError before the
// model file is touched.
func NewEngine(cfg *ggufai.Config) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	timeout := time.Duration(cfg.Backend.TimeoutSeconds) * time.Second

	var rt model.Runtime
	var err error
	if cfg.Backend.ServerURL != "" {
		rt, err = llamaserver.Open(cfg.ModelPath, cfg.Backend.ServerURL, llamaserver.Options{
			Timeout: timeout,
		})
	} else {
		rt, err = llamacpp.Open(cfg.ModelPath, llamacpp.Options{
			CLIPath:      cfg.Backend.CLIPath,
			TokenizePath: cfg.Backend.TokenizePath,
			Timeout:      timeout,
		})
	}
	if err != nil {
		return nil, fmt.Errorf("load model %s: %w", cfg.ModelPath, err)
	}

	return NewEngineWithRuntime(cfg, rt)
}

// NewEngineWithRuntime is NewEngine with a caller-supplied runtime. The
// engine takes ownership; Close releases it.
func NewEngineWithRuntime(cfg *ggufai.Config, rt model.Runtime) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	side, err := budget.ParseSide(cfg.Truncate)
	if err != nil {
		return nil, &ggufai.ConfigError{Field: "truncate", Reason: err.Error()}
	}

	cache := ttlcache.New[string, []int](
		ttlcache.WithTTL[string, []int](tokenCacheTTL),
		ttlcache.WithCapacity[string, []int](tokenCacheSize),
	)
	go cache.Start()

	info := rt.Info()
	slog.Info("model loaded",
		"path", info.Path,
		"arch", info.Architecture,
		"name", info.Name,
		"context_length", info.ContextLength,
		"vocab_size", info.VocabSize,
	)

	return &Engine{
		cfg: cfg,
		rt:  rt,
		adjuster: budget.Adjuster{
			MaxInputTokens: cfg.MaxInputTokens,
			MaxTokens:      cfg.MaxTokens,
			Side:           side,
		},
		normalize: normalizeRule(cfg.Normalize),
		tokens:    cache,
	}, nil
}

// normalizeRule builds the cleanup chain selected by config.
func normalizeRule(cfg ggufai.NormalizeConfig) textnorm.Rule {
	if cfg.Disabled {
		return textnorm.None
	}
	rules := []textnorm.Rule{textnorm.DropPreamble}
	if cfg.StripListMarkers {
		rules = append(rules, textnorm.StripListMarkers)
	}
	rules = append(rules, textnorm.FlattenNewlines)
	if cfg.OnlyLetters {
		rules = append(rules, textnorm.OnlyLetters)
	}
	rules = append(rules, textnorm.CollapseSpaces, textnorm.TrimSpace)
	return textnorm.Chain(rules...)
}

// Close releases the model runtime and stops the token cache.
func (e *Engine) Close() error {
	e.tokens.Stop()
	return e.rt.Close()
}

// Info reports metadata of the loaded model.
func (e *Engine) Info() model.Info { return e.rt.Info() }

// Option adjusts a single Infer call.
type Option func(*callOptions)

type callOptions struct {
	maxTokens   int
	stop        string
	includeStop bool
	normalize   textnorm.Rule
}

// WithMaxTokens overrides the generation cap for this call. It does not
// change the configured default.
func WithMaxTokens(n int) Option {
	return func(o *callOptions) { o.maxTokens = n }
}

// WithStop stops generation at the given string. The stop string is appended
// to the result unless WithoutStopInResult is also given.
func WithStop(s string) Option {
	return func(o *callOptions) { o.stop = s }
}

// WithoutStopInResult leaves the stop string out of the returned text.
func WithoutStopInResult() Option {
	return func(o *callOptions) { o.includeStop = false }
}

// WithNormalization replaces the configured cleanup chain for this call.
func WithNormalization(r textnorm.Rule) Option {
	return func(o *callOptions) { o.normalize = r }
}

// Infer generates completion text for the prompt. Prompts over the input
// budget are truncated (a warning is logged) rather than rejected; an
// invalid per-call override is a *ggufai.RequestError; backend failures
// propagate unretried.
func (e *Engine) Infer(ctx context.Context, text string, opts ...Option) (string, error) {
	o := callOptions{includeStop: true, normalize: e.normalize}
	for _, opt := range opts {
		opt(&o)
	}
	if o.maxTokens < 0 {
		return "", &ggufai.RequestError{Arg: "max_tokens_if_needed", Reason: "must be a positive integer"}
	}

	reqID := uuid.NewString()

	normalized := o.normalize(text)
	if normalized != text {
		slog.Debug("prompt normalized", "request_id", reqID, "before_len", len(text), "after_len", len(normalized))
	}

	tokens, err := e.encode(normalized)
	if err != nil {
		return "", err
	}

	plan := e.adjuster.Fit(tokens, o.maxTokens)
	if plan.Truncated {
		slog.Warn("prompt over input budget, truncated",
			"request_id", reqID,
			"prompt_tokens", len(tokens),
			"max_input_tokens", e.adjuster.MaxInputTokens,
			"dropped", plan.Dropped,
			"side", e.adjuster.Side.String(),
		)
	}

	var stop []string
	if o.stop != "" {
		stop = []string{o.stop}
	}

	slog.Debug("generating",
		"request_id", reqID,
		"input_tokens", len(plan.Input),
		"output_cap", plan.OutputCap,
	)

	out, err := e.rt.Generate(ctx, plan.Input, plan.OutputCap, stop)
	if err != nil {
		return "", err
	}

	if o.stop != "" && o.includeStop {
		out += o.stop
	}
	return out, nil
}

// Tokenize encodes text with the model's tokenizer.
func (e *Engine) Tokenize(text string) ([]int, error) {
	return e.encode(text)
}

// Detokenize decodes token ids back into text.
func (e *Engine) Detokenize(ids []int) (string, error) {
	return e.rt.Decode(ids)
}

// CountTokens returns the number of tokens the text encodes to.
func (e *Engine) CountTokens(text string) (int, error) {
	tokens, err := e.encode(text)
	if err != nil {
		return 0, err
	}
	return len(tokens), nil
}

// WithinInputLimit reports whether the text fits the input budget without
// truncation.
func (e *Engine) WithinInputLimit(text string) (bool, error) {
	n, err := e.CountTokens(text)
	if err != nil {
		return false, err
	}
	return n <= e.adjuster.MaxInputTokens, nil
}

// AdjustBudgets replaces both caps. The same validation as at construction
// applies; the loaded runtime is kept.
func (e *Engine) AdjustBudgets(maxTokens, maxInputTokens int) error {
	if maxTokens <= 0 {
		return &ggufai.ConfigError{Field: "max_tokens", Reason: "must be a positive integer"}
	}
	if maxInputTokens <= 0 {
		return &ggufai.ConfigError{Field: "max_input_tokens", Reason: "must be a positive integer"}
	}
	e.adjuster.MaxTokens = maxTokens
	e.adjuster.MaxInputTokens = maxInputTokens
	slog.Info("budgets adjusted", "max_tokens", maxTokens, "max_input_tokens", maxInputTokens)
	return nil
}

// encode tokenizes through the cache.
func (e *Engine) encode(text string) ([]int, error) {
	key := hashText(text)
	if item := e.tokens.Get(key); item != nil {
		return item.Value(), nil
	}
	tokens, err := e.rt.Encode(text)
	if err != nil {
		return nil, err
	}
	e.tokens.Set(key, tokens, ttlcache.DefaultTTL)
	return tokens, nil
}

func hashText(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}
