// Package llamaserver drives a running llama.cpp server over HTTP, using its
// /tokenize, /detokenize and /completion endpoints.
package llamaserver

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/ggufai/ggufai/model"
	"github.com/ggufai/ggufai/model/gguf"
)

// DefaultTimeout bounds a single HTTP call.
const DefaultTimeout = 120 * time.Second

// Options configures the server client.
type Options struct {
	// Timeout bounds each HTTP request. DefaultTimeout when zero.
	Timeout time.Duration
	// APIKey is sent as a bearer token when set.
	APIKey string
}

// Runtime implements model.Runtime against a llama.cpp server instance.
type Runtime struct {
	baseURL string
	apiKey  string
	info    model.Info
	client  *http.Client
}

// Open validates the local model file and returns a client for the server
// that serves it. A bad model path fails here, not on the first call.
func Open(modelPath, baseURL string, opts Options) (*Runtime, error) {
	info, err := gguf.ReadInfo(modelPath)
	if err != nil {
		return nil, err
	}

	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	return &Runtime{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  opts.APIKey,
		info:    info,
		client:  &http.Client{Timeout: timeout},
	}, nil
}

// Info reports metadata read from the local model file.
func (r *Runtime) Info() model.Info { return r.info }

// Close shuts down the client's idle connections.
func (r *Runtime) Close() error {
	r.client.CloseIdleConnections()
	return nil
}

type tokenizeRequest struct {
	Content string `json:"content"`
}

type tokenizeResponse struct {
	Tokens []int `json:"tokens"`
}

// Encode tokenizes text via POST /tokenize.
func (r *Runtime) Encode(text string) ([]int, error) {
	var result tokenizeResponse
	if err := r.post(context.Background(), "/tokenize", tokenizeRequest{Content: text}, &result); err != nil {
		return nil, err
	}
	if result.Tokens == nil {
		result.Tokens = []int{}
	}
	return result.Tokens, nil
}

type detokenizeRequest struct {
	Tokens []int `json:"tokens"`
}

type detokenizeResponse struct {
	Content string `json:"content"`
}

// Decode reconstructs text via POST /detokenize.
func (r *Runtime) Decode(ids []int) (string, error) {
	if ids == nil {
		ids = []int{}
	}
	var result detokenizeResponse
	if err := r.post(context.Background(), "/detokenize", detokenizeRequest{Tokens: ids}, &result); err != nil {
		return "", err
	}
	return result.Content, nil
}

type completionRequest struct {
	// Prompt is the token id sequence; the server accepts ids directly, so
	// the budgeted window goes over the wire unmodified.
	Prompt   []int    `json:"prompt"`
	NPredict int      `json:"n_predict"`
	Stop     []string `json:"stop,omitempty"`
	Stream   bool     `json:"stream"`
}

type completionResponse struct {
	Content string `json:"content"`
}

// Generate requests a completion via POST /completion.
func (r *Runtime) Generate(ctx context.Context, prompt []int, maxNewTokens int, stop []string) (string, error) {
	if prompt == nil {
		prompt = []int{}
	}
	reqBody := completionRequest{
		Prompt:   prompt,
		NPredict: maxNewTokens,
		Stop:     stop,
	}
	var result completionResponse
	if err := r.post(ctx, "/completion", reqBody, &result); err != nil {
		return "", err
	}
	return result.Content, nil
}

// post sends one JSON request and decodes the JSON response.
func (r *Runtime) post(ctx context.Context, path string, body, result any) error {
	data, err := json.Marshal(body)
	if err != nil {
		return err
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST", r.baseURL+path, bytes.NewReader(data))
	if err != nil {
		return err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if r.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+r.apiKey)
	}

	resp, err := r.client.Do(httpReq)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}

	if resp.StatusCode != 200 {
		return fmt.Errorf("server error (status %d): %s", resp.StatusCode, string(respBody))
	}

	if err := json.Unmarshal(respBody, result); err != nil {
		return fmt.Errorf("failed to parse response: %w (body: %s)", err, string(respBody))
	}
	return nil
}
