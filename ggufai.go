// Package ggufai holds the configuration and error types shared by the
// gguf-model wrapper packages. The actual generation pipeline lives in the
// generate package; model backends live under model/.
package ggufai

// Version of the library, overridden at build time via -ldflags.
var Version = "dev"
