package generate

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	ggufai "github.com/ggufai/ggufai"
	"github.com/ggufai/ggufai/model"
	"github.com/ggufai/ggufai/textnorm"
)

// fakeRuntime tokenizes one id per whitespace-separated word and records
// what the engine asks of it.
type fakeRuntime struct {
	encodeCalls int
	lastEncoded string
	genPrompt   []int
	genCap      int
	genStop     []string
	output      string
	genErr      error
	closed      bool
}

func (f *fakeRuntime) Encode(text string) ([]int, error) {
	f.encodeCalls++
	f.lastEncoded = text
	words := strings.Fields(text)
	ids := make([]int, len(words))
	for i := range words {
		ids[i] = i + 1
	}
	return ids, nil
}

func (f *fakeRuntime) Decode(ids []int) (string, error) {
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = fmt.Sprintf("t%d", id)
	}
	return strings.Join(parts, " "), nil
}

func (f *fakeRuntime) Generate(_ context.Context, prompt []int, maxNewTokens int, stop []string) (string, error) {
	if f.genErr != nil {
		return "", f.genErr
	}
	f.genPrompt = prompt
	f.genCap = maxNewTokens
	f.genStop = stop
	return f.output, nil
}

func (f *fakeRuntime) Info() model.Info { return model.Info{Architecture: "llama"} }

func (f *fakeRuntime) Close() error {
	f.closed = true
	return nil
}

func testConfig() *ggufai.Config {
	return &ggufai.Config{
		ModelPath:      "/models/test.gguf",
		MaxTokens:      500,
		MaxInputTokens: 100,
		Truncate:       ggufai.TruncateTail,
	}
}

func testEngine(t *testing.T, cfg *ggufai.Config, rt *fakeRuntime) *Engine {
	t.Helper()
	e, err := NewEngineWithRuntime(cfg, rt)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { e.Close() })
	return e
}

func TestInferShortPromptPassesThrough(t *testing.T) {
	rt := &fakeRuntime{output: ", the story began."}
	e := testEngine(t, testConfig(), rt)

	out, err := e.Infer(context.Background(), "Once upon a time")
	if err != nil {
		t.Fatal(err)
	}
	if out != ", the story began." {
		t.Errorf("got %q", out)
	}
	if len(rt.genPrompt) != 4 {
		t.Errorf("expected all 4 tokens sent, got %d", len(rt.genPrompt))
	}
	if rt.genCap != 500 {
		t.Errorf("expected configured cap 500, got %d", rt.genCap)
	}
}

func TestInferTruncatesOverLengthPrompt(t *testing.T) {
	rt := &fakeRuntime{output: "done"}
	e := testEngine(t, testConfig(), rt)

	prompt := strings.TrimSpace(strings.Repeat("word ", 150))
	_, err := e.Infer(context.Background(), prompt, WithMaxTokens(2000))
	if err != nil {
		t.Fatal(err)
	}
	if len(rt.genPrompt) != 100 {
		t.Errorf("expected exactly 100 input tokens, got %d", len(rt.genPrompt))
	}
	if rt.genCap != 2000 {
		t.Errorf("expected override cap 2000, got %d", rt.genCap)
	}
	// Tail truncation keeps the first tokens.
	if rt.genPrompt[0] != 1 || rt.genPrompt[99] != 100 {
		t.Errorf("expected tokens 1..100, got %d..%d", rt.genPrompt[0], rt.genPrompt[99])
	}
}

func TestInferTruncateHead(t *testing.T) {
	cfg := testConfig()
	cfg.Truncate = ggufai.TruncateHead
	rt := &fakeRuntime{}
	e := testEngine(t, cfg, rt)

	prompt := strings.TrimSpace(strings.Repeat("word ", 150))
	if _, err := e.Infer(context.Background(), prompt); err != nil {
		t.Fatal(err)
	}
	if len(rt.genPrompt) != 100 {
		t.Fatalf("expected 100 tokens, got %d", len(rt.genPrompt))
	}
	if rt.genPrompt[0] != 51 || rt.genPrompt[99] != 150 {
		t.Errorf("expected tokens 51..150, got %d..%d", rt.genPrompt[0], rt.genPrompt[99])
	}
}

func TestInferNegativeOverrideRejected(t *testing.T) {
	e := testEngine(t, testConfig(), &fakeRuntime{})

	_, err := e.Infer(context.Background(), "hi", WithMaxTokens(-1))
	var reqErr *ggufai.RequestError
	if !errors.As(err, &reqErr) {
		t.Fatalf("expected RequestError, got %v", err)
	}
}

func TestInferStopStringAppended(t *testing.T) {
	rt := &fakeRuntime{output: "first sentence"}
	e := testEngine(t, testConfig(), rt)

	out, err := e.Infer(context.Background(), "go", WithStop("."))
	if err != nil {
		t.Fatal(err)
	}
	if out != "first sentence." {
		t.Errorf("got %q", out)
	}
	if len(rt.genStop) != 1 || rt.genStop[0] != "." {
		t.Errorf("stop = %v", rt.genStop)
	}

	out, err = e.Infer(context.Background(), "go", WithStop("."), WithoutStopInResult())
	if err != nil {
		t.Fatal(err)
	}
	if out != "first sentence" {
		t.Errorf("got %q", out)
	}
}

func TestInferNormalizesBeforeTokenizing(t *testing.T) {
	rt := &fakeRuntime{}
	e := testEngine(t, testConfig(), rt)

	if _, err := e.Infer(context.Background(), "preamble:\n\nreal   content\nhere"); err != nil {
		t.Fatal(err)
	}
	if rt.lastEncoded != "real content here" {
		t.Errorf("encoded %q", rt.lastEncoded)
	}
}

func TestInferNormalizationDisabled(t *testing.T) {
	cfg := testConfig()
	cfg.Normalize.Disabled = true
	rt := &fakeRuntime{}
	e := testEngine(t, cfg, rt)

	raw := "keep\n\nas   is"
	if _, err := e.Infer(context.Background(), raw); err != nil {
		t.Fatal(err)
	}
	if rt.lastEncoded != raw {
		t.Errorf("encoded %q, want raw input", rt.lastEncoded)
	}
}

func TestInferPerCallNormalization(t *testing.T) {
	rt := &fakeRuntime{}
	e := testEngine(t, testConfig(), rt)

	if _, err := e.Infer(context.Background(), " raw\n text ", WithNormalization(textnorm.None)); err != nil {
		t.Fatal(err)
	}
	if rt.lastEncoded != " raw\n text " {
		t.Errorf("encoded %q", rt.lastEncoded)
	}
}

func TestInferBackendErrorPropagates(t *testing.T) {
	backendErr := errors.New("backend exploded")
	rt := &fakeRuntime{genErr: backendErr}
	e := testEngine(t, testConfig(), rt)

	_, err := e.Infer(context.Background(), "hi")
	if !errors.Is(err, backendErr) {
		t.Errorf("expected backend error unmodified, got %v", err)
	}
}

func TestTokenCacheAvoidsRepeatEncodes(t *testing.T) {
	rt := &fakeRuntime{}
	e := testEngine(t, testConfig(), rt)

	if _, err := e.CountTokens("same prompt"); err != nil {
		t.Fatal(err)
	}
	if _, err := e.CountTokens("same prompt"); err != nil {
		t.Fatal(err)
	}
	if _, err := e.Infer(context.Background(), "same prompt"); err != nil {
		t.Fatal(err)
	}
	if rt.encodeCalls != 1 {
		t.Errorf("expected 1 encode call, got %d", rt.encodeCalls)
	}
}

func TestWithinInputLimit(t *testing.T) {
	cfg := testConfig()
	cfg.MaxInputTokens = 3
	e := testEngine(t, cfg, &fakeRuntime{})

	ok, err := e.WithinInputLimit("one two three")
	if err != nil {
		t.Fatal(err)
	}
	if !ok {
		t.Error("3 tokens should fit a cap of 3")
	}

	ok, err = e.WithinInputLimit("one two three four")
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Error("4 tokens should not fit a cap of 3")
	}
}

func TestAdjustBudgets(t *testing.T) {
	rt := &fakeRuntime{}
	e := testEngine(t, testConfig(), rt)

	if err := e.AdjustBudgets(64, 8); err != nil {
		t.Fatal(err)
	}
	prompt := strings.TrimSpace(strings.Repeat("w ", 20))
	if _, err := e.Infer(context.Background(), prompt); err != nil {
		t.Fatal(err)
	}
	if len(rt.genPrompt) != 8 {
		t.Errorf("expected 8 tokens after adjustment, got %d", len(rt.genPrompt))
	}
	if rt.genCap != 64 {
		t.Errorf("expected cap 64, got %d", rt.genCap)
	}

	var cfgErr *ggufai.ConfigError
	if err := e.AdjustBudgets(0, 8); !errors.As(err, &cfgErr) {
		t.Errorf("expected ConfigError for max_tokens=0, got %v", err)
	}
	if err := e.AdjustBudgets(64, -1); !errors.As(err, &cfgErr) {
		t.Errorf("expected ConfigError for max_input_tokens=-1, got %v", err)
	}
}

func TestNewEngineBadConfigDoesNotTouchModel(t *testing.T) {
	cfg := testConfig()
	cfg.MaxInputTokens = 0
	cfg.ModelPath = "/nonexistent/model.gguf"

	_, err := NewEngine(cfg)
	var cfgErr *ggufai.ConfigError
	if !errors.As(err, &cfgErr) {
		t.Fatalf("expected ConfigError before any file access, got %v", err)
	}
	if cfgErr.Field != "max_input_tokens" {
		t.Errorf("unexpected field %q", cfgErr.Field)
	}
}

func TestCloseReleasesRuntime(t *testing.T) {
	rt := &fakeRuntime{}
	e, err := NewEngineWithRuntime(testConfig(), rt)
	if err != nil {
		t.Fatal(err)
	}
	if err := e.Close(); err != nil {
		t.Fatal(err)
	}
	if !rt.closed {
		t.Error("runtime not closed")
	}
}

func TestDetokenizePassthrough(t *testing.T) {
	e := testEngine(t, testConfig(), &fakeRuntime{})
	text, err := e.Detokenize([]int{1, 2})
	if err != nil {
		t.Fatal(err)
	}
	if text != "t1 t2" {
		t.Errorf("got %q", text)
	}
}
