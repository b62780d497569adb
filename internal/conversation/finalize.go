package conversation

import (
	"regexp"
	"strings"

	"github.com/bytedance/sonic"
)

// ExtractOutcome tags the result of a finalization-extraction attempt.
type ExtractOutcome int

const (
	// ExtractSuccess means a payload was parsed.
	ExtractSuccess ExtractOutcome = iota
	// ExtractNoMatch means the content held nothing that looks like a
	// structured payload. Recoverable.
	ExtractNoMatch
	// ExtractParseError means a candidate span was found but failed to
	// parse. Recoverable.
	ExtractParseError
)

// ExtractResult is the tagged outcome of ExtractFinalization.
type ExtractResult struct {
	Outcome ExtractOutcome
	Payload map[string]any
	Err     error
}

var fencedJSON = regexp.MustCompile("(?is)```json\\s*(.*?)\\s*```")

// ExtractFinalization pulls a structured payload out of free-form finalizer
// output. Strategies, in order: a fenced block explicitly labeled json,
// then the last balanced brace-delimited span in the text. It is a pure
// function; it never panics and never uses errors for control flow.
func ExtractFinalization(content string) ExtractResult {
	if strings.TrimSpace(content) == "" {
		return ExtractResult{Outcome: ExtractNoMatch}
	}

	if m := fencedJSON.FindStringSubmatch(content); m != nil {
		return parseSpan(m[1])
	}

	if span, ok := lastBraceSpan(content); ok {
		return parseSpan(span)
	}

	return ExtractResult{Outcome: ExtractNoMatch}
}

func parseSpan(span string) ExtractResult {
	var payload map[string]any
	if err := sonic.Unmarshal([]byte(span), &payload); err != nil {
		return ExtractResult{Outcome: ExtractParseError, Err: err}
	}
	return ExtractResult{Outcome: ExtractSuccess, Payload: payload}
}

// lastBraceSpan returns the last balanced {...} span in content.
func lastBraceSpan(content string) (string, bool) {
	var (
		spans []string
		depth int
		start int
	)
	for i, r := range content {
		switch r {
		case '{':
			if depth == 0 {
				start = i
			}
			depth++
		case '}':
			if depth == 0 {
				continue
			}
			depth--
			if depth == 0 {
				spans = append(spans, content[start:i+1])
			}
		}
	}
	if len(spans) == 0 {
		return "", false
	}
	return spans[len(spans)-1], true
}
