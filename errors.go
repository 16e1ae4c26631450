package ggufai

import "fmt"

// ConfigError reports an invalid construction-time parameter. It is returned
// before any model loading is attempted.
type ConfigError struct {
	// Field is the configuration field at fault (e.g. "max_input_tokens").
	Field string
	// Reason is a human-readable description of what is wrong with it.
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("config: %s: %s", e.Field, e.Reason)
}

// RequestError reports an invalid call-time argument to a generation call.
// Over-length prompts are not request errors; they are truncated.
type RequestError struct {
	// Arg is the argument at fault (e.g. "max_tokens_if_needed").
	Arg string
	// Reason is a human-readable description of what is wrong with it.
	Reason string
}

func (e *RequestError) Error() string {
	return fmt.Sprintf("request: %s: %s", e.Arg, e.Reason)
}
