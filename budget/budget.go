// Package budget decides the token window for a single generation call:
// how many prompt tokens go in, and how many new tokens may come out.
package budget

import "fmt"

// Side selects which end of an over-length prompt is dropped.
type Side int

const (
	// TruncateTail drops trailing tokens, keeping the start of the prompt.
	TruncateTail Side = iota
	// TruncateHead drops leading tokens, keeping the end of the prompt.
	TruncateHead
)

// ParseSide converts a config string ("tail" or "head") into a Side.
func ParseSide(s string) (Side, error) {
	switch s {
	case "tail", "":
		return TruncateTail, nil
	case "head":
		return TruncateHead, nil
	}
	return TruncateTail, fmt.Errorf("unknown truncation side %q", s)
}

func (s Side) String() string {
	if s == TruncateHead {
		return "head"
	}
	return "tail"
}

// Plan is the outcome of fitting one prompt into the budget.
type Plan struct {
	// Input is the (possibly truncated) token sequence to send to the model.
	// It aliases the sequence passed to Fit; callers must not mutate it.
	Input []int
	// OutputCap is the maximum number of new tokens to request.
	OutputCap int
	// Truncated reports whether any prompt tokens were dropped.
	Truncated bool
	// Dropped is the number of prompt tokens that did not fit.
	Dropped int
}

// Adjuster computes token windows against fixed caps. The zero value is not
// usable; both caps must be positive (the caller validates at construction).
type Adjuster struct {
	// MaxInputTokens is the prompt-token cap per call.
	MaxInputTokens int
	// MaxTokens is the default generation cap, used when no override is given.
	MaxTokens int
	// Side is the end of the prompt sacrificed when it is over the cap.
	Side Side
}

// Fit sizes the window for one call. An over-length prompt is cut to exactly
// MaxInputTokens tokens; it is never an error. override > 0 replaces the
// default generation cap for this call only; 0 means "not provided".
// Negative overrides are the caller's job to reject before calling Fit.
func (a Adjuster) Fit(tokens []int, override int) Plan {
	plan := Plan{Input: tokens, OutputCap: a.MaxTokens}
	if override > 0 {
		plan.OutputCap = override
	}

	excess := len(tokens) - a.MaxInputTokens
	if excess <= 0 {
		return plan
	}

	if a.Side == TruncateHead {
		plan.Input = tokens[excess:]
	} else {
		plan.Input = tokens[:a.MaxInputTokens]
	}
	plan.Truncated = true
	plan.Dropped = excess
	return plan
}
