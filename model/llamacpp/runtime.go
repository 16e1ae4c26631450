// Package llamacpp drives a GGUF model through the llama.cpp command-line
// tools: llama-tokenize for encoding and llama-cli for generation. Decoding
// is done locally from the vocabulary embedded in the model file.
package llamacpp

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/ggufai/ggufai/model"
	"github.com/ggufai/ggufai/model/gguf"
)

// DefaultTimeout bounds a single subprocess invocation.
const DefaultTimeout = 120 * time.Second

// Options configures how the llama.cpp binaries are located and run.
type Options struct {
	// CLIPath is the llama-cli binary. Resolved from $PATH when empty.
	CLIPath string
	// TokenizePath is the llama-tokenize binary. Resolved from $PATH when empty.
	TokenizePath string
	// Timeout bounds each subprocess call. DefaultTimeout when zero.
	Timeout time.Duration
}

// Runtime implements model.Runtime via llama.cpp subprocesses.
type Runtime struct {
	modelPath    string
	cliPath      string
	tokenizePath string
	timeout      time.Duration
	info         model.Info
	vocab        []string
}

// Open validates the model file, loads its vocabulary, and locates the
// llama.cpp binaries.
func Open(modelPath string, opts Options) (*Runtime, error) {
	f, err := gguf.Read(modelPath)
	if err != nil {
		return nil, err
	}

	cli := opts.CLIPath
	if cli == "" {
		cli, err = exec.LookPath("llama-cli")
		if err != nil {
			return nil, fmt.Errorf("llama-cli not found: %w", err)
		}
	}
	tok := opts.TokenizePath
	if tok == "" {
		tok, err = exec.LookPath("llama-tokenize")
		if err != nil {
			return nil, fmt.Errorf("llama-tokenize not found: %w", err)
		}
	}

	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	return &Runtime{
		modelPath:    modelPath,
		cliPath:      cli,
		tokenizePath: tok,
		timeout:      timeout,
		info:         f.Info,
		vocab:        f.Vocab,
	}, nil
}

// Info reports metadata read from the model file.
func (r *Runtime) Info() model.Info { return r.info }

// Close releases the runtime. Subprocesses do not outlive their calls, so
// there is nothing to tear down.
func (r *Runtime) Close() error { return nil }

// Encode tokenizes text via llama-tokenize --ids.
func (r *Runtime) Encode(text string) ([]int, error) {
	out, err := r.run(context.Background(), r.tokenizePath,
		"-m", r.modelPath,
		"--ids", "--no-parse-special",
		"-p", text,
	)
	if err != nil {
		return nil, err
	}
	return parseIDList(out)
}

// Decode reconstructs text from token ids using the vocabulary from the
// model file. SentencePiece conventions are honored: "▁" marks a space and
// "<0xNN>" is a raw byte.
func (r *Runtime) Decode(ids []int) (string, error) {
	var buf bytes.Buffer
	for _, id := range ids {
		if id < 0 || id >= len(r.vocab) {
			return "", fmt.Errorf("token id %d outside vocabulary (size %d)", id, len(r.vocab))
		}
		writePiece(&buf, r.vocab[id])
	}
	return buf.String(), nil
}

// Generate detokenizes the prompt window and runs llama-cli on it.
func (r *Runtime) Generate(ctx context.Context, prompt []int, maxNewTokens int, stop []string) (string, error) {
	text, err := r.Decode(prompt)
	if err != nil {
		return "", err
	}

	args := []string{
		"-m", r.modelPath,
		"-n", strconv.Itoa(maxNewTokens),
		"--no-display-prompt",
		"-p", text,
	}
	for _, s := range stop {
		args = append(args, "-r", s)
	}

	out, err := r.run(ctx, r.cliPath, args...)
	if err != nil {
		return "", err
	}
	return cutAtStop(out, stop), nil
}

// run executes one llama.cpp binary with the runtime's timeout.
func (r *Runtime) run(ctx context.Context, name string, args ...string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, name, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		msg := strings.TrimSpace(stderr.String())
		if msg != "" {
			return "", fmt.Errorf("%s: %w: %s", name, err, msg)
		}
		return "", fmt.Errorf("%s: %w", name, err)
	}
	return stdout.String(), nil
}

// parseIDList extracts token ids from llama-tokenize --ids output, which
// prints the sequence as a bracketed, comma-separated list.
func parseIDList(out string) ([]int, error) {
	start := strings.IndexByte(out, '[')
	end := strings.LastIndexByte(out, ']')
	if start < 0 || end < start {
		return nil, fmt.Errorf("unexpected tokenizer output %q", strings.TrimSpace(out))
	}
	inner := strings.TrimSpace(out[start+1 : end])
	if inner == "" {
		return []int{}, nil
	}

	parts := strings.Split(inner, ",")
	ids := make([]int, 0, len(parts))
	for _, p := range parts {
		id, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil {
			return nil, fmt.Errorf("bad token id %q: %w", p, err)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// writePiece appends one vocabulary piece to buf, translating SentencePiece
// markers.
func writePiece(buf *bytes.Buffer, piece string) {
	if b, ok := bytePiece(piece); ok {
		buf.WriteByte(b)
		return
	}
	buf.WriteString(strings.ReplaceAll(piece, "▁", " "))
}

// bytePiece recognizes "<0xNN>" raw-byte tokens.
func bytePiece(piece string) (byte, bool) {
	if len(piece) != 6 || !strings.HasPrefix(piece, "<0x") || piece[5] != '>' {
		return 0, false
	}
	v, err := strconv.ParseUint(piece[3:5], 16, 8)
	if err != nil {
		return 0, false
	}
	return byte(v), true
}

// cutAtStop trims generated text at the earliest stop string occurrence.
func cutAtStop(text string, stop []string) string {
	cut := len(text)
	for _, s := range stop {
		if s == "" {
			continue
		}
		if i := strings.Index(text, s); i >= 0 && i < cut {
			cut = i
		}
	}
	return text[:cut]
}
