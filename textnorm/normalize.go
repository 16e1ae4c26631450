// Package textnorm cleans up prompt text before tokenization. Every rule is
// a pure string transform and idempotent: applying a rule to its own output
// changes nothing.
package textnorm

import (
	"strings"
	"unicode"
)

// Rule transforms text. Rules must be pure and idempotent.
type Rule func(string) string

// Chain composes rules left to right into a single Rule.
func Chain(rules ...Rule) Rule {
	return func(s string) string {
		for _, r := range rules {
			s = r(s)
		}
		return s
	}
}

// None leaves text untouched.
func None(s string) string { return s }

// DropPreamble discards everything before the first blank line and joins the
// remaining paragraphs with spaces. Text without a blank line is untouched.
func DropPreamble(s string) string {
	if !strings.Contains(s, "\n\n") {
		return s
	}
	parts := strings.Split(s, "\n\n")
	return strings.Join(parts[1:], " ")
}

// FlattenNewlines replaces every newline with a single space.
func FlattenNewlines(s string) string {
	s = strings.ReplaceAll(s, "\r\n", " ")
	return strings.ReplaceAll(s, "\n", " ")
}

// CollapseSpaces replaces runs of multiple spaces with a single space.
func CollapseSpaces(s string) string {
	var buf strings.Builder
	buf.Grow(len(s))
	prevSpace := false
	for _, r := range s {
		if r == ' ' {
			if !prevSpace {
				buf.WriteByte(' ')
			}
			prevSpace = true
		} else {
			buf.WriteRune(r)
			prevSpace = false
		}
	}
	return buf.String()
}

// TrimSpace removes leading and trailing whitespace.
func TrimSpace(s string) string { return strings.TrimSpace(s) }

// OnlyLetters drops every rune that is not a letter, a space, or a newline.
func OnlyLetters(s string) string {
	var buf strings.Builder
	buf.Grow(len(s))
	for _, r := range s {
		if unicode.IsLetter(r) || r == ' ' || r == '\n' {
			buf.WriteRune(r)
		}
	}
	return buf.String()
}

// StripListMarkers removes leading bullet ("-", "*", "+") and numbered
// ("1.", "2)") list markers from each line. Stacked markers are removed in
// one pass so the rule stays idempotent.
func StripListMarkers(s string) string {
	lines := strings.Split(s, "\n")
	for i, line := range lines {
		lines[i] = stripLineMarkers(line)
	}
	return strings.Join(lines, "\n")
}

func stripLineMarkers(line string) string {
	indent := line[:len(line)-len(strings.TrimLeft(line, " \t"))]
	rest := line[len(indent):]
	for {
		stripped := stripOneMarker(rest)
		if stripped == rest {
			break
		}
		rest = stripped
	}
	return indent + rest
}

func stripOneMarker(s string) string {
	if len(s) >= 2 && (s[0] == '-' || s[0] == '*' || s[0] == '+') && s[1] == ' ' {
		return strings.TrimLeft(s[2:], " ")
	}
	// Numbered markers: digits followed by "." or ")" and a space.
	i := 0
	for i < len(s) && s[i] >= '0' && s[i] <= '9' {
		i++
	}
	if i > 0 && i+1 < len(s) && (s[i] == '.' || s[i] == ')') && s[i+1] == ' ' {
		return strings.TrimLeft(s[i+2:], " ")
	}
	return s
}

// Default is the standard cleanup chain: drop any preamble, flatten
// newlines, collapse spaces, and trim.
func Default() Rule {
	return Chain(DropPreamble, FlattenNewlines, CollapseSpaces, TrimSpace)
}
