// Package model defines the collaborator interfaces the generation engine
// drives: a tokenizer and a generator, bundled into a Runtime that is
// acquired at construction and released with Close.
package model

import "context"

// Tokenizer encodes text into model token ids and back.
type Tokenizer interface {
	Encode(text string) ([]int, error)
	Decode(ids []int) (string, error)
}

// Generator produces a completion for an already-tokenized prompt. The call
// blocks until generation finishes; no retries happen at this layer.
type Generator interface {
	// Generate requests up to maxNewTokens new tokens for the prompt.
	// Generation stops early when one of the stop strings is produced.
	Generate(ctx context.Context, prompt []int, maxNewTokens int, stop []string) (string, error)
}

// Runtime is a loaded model: one per wrapper instance, held for the
// instance's lifetime, released by Close.
type Runtime interface {
	Tokenizer
	Generator
	// Info reports metadata read from the model file.
	Info() Info
	Close() error
}

// Info describes a GGUF model file.
type Info struct {
	// Path is the model file the runtime was opened from.
	Path string
	// Architecture is the value of general.architecture (e.g. "llama").
	Architecture string
	// Name is the value of general.name, when present.
	Name string
	// ContextLength is the model's training context window, 0 when unknown.
	ContextLength int
	// VocabSize is the tokenizer vocabulary size, 0 when unknown.
	VocabSize int
	// Version is the GGUF container version.
	Version uint32
	// TensorCount is the number of tensors in the file.
	TensorCount uint64
}
