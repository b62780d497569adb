package conversation

import (
	"strings"
	"unicode"
)

// controlTokens is the closed vocabulary of control/termination terms the
// generator may leak into user-visible content. Matching is whole-word and
// case-insensitive; tokens may contain characters that are regex
// metacharacters, so the match is a plain set lookup rather than a built-up
// pattern.
var controlTokens = []string{
	"TERMINATE", "HANDOFF", "EXIT", "TIMEOUT",
	"STOP", "END", "FINISH", "COMPLETE",
	"#transbordo", "#finalizar", "#finalizado",
}

// wordPunct is trimmed from a word before the set lookup so that trailing
// punctuation ("TERMINATE.") does not defeat the match.
const wordPunct = ".,;:!?()[]"

// Filter strips control tokens from text.
type Filter struct {
	tokens map[string]struct{}
}

// NewFilter builds a filter over the default control vocabulary.
func NewFilter() *Filter {
	return NewFilterTokens(controlTokens)
}

// NewFilterTokens builds a filter over a custom vocabulary.
func NewFilterTokens(tokens []string) *Filter {
	set := make(map[string]struct{}, len(tokens))
	for _, t := range tokens {
		set[strings.ToLower(t)] = struct{}{}
	}
	return &Filter{tokens: set}
}

// Apply removes every whole-word occurrence of a control token. The
// separators between the surviving words, newlines included, are kept as
// they were; a removed token takes its leading separator with it.
func (f *Filter) Apply(content string) string {
	if content == "" {
		return content
	}

	var b strings.Builder
	b.Grow(len(content))
	rest := content
	dropped := false
	for {
		start := strings.IndexFunc(rest, func(r rune) bool { return !unicode.IsSpace(r) })
		if start < 0 {
			if !dropped && b.Len() > 0 {
				b.WriteString(rest)
			}
			break
		}
		sep := rest[:start]
		rest = rest[start:]
		end := strings.IndexFunc(rest, unicode.IsSpace)
		if end < 0 {
			end = len(rest)
		}
		word := rest[:end]
		rest = rest[end:]

		bare := strings.ToLower(strings.Trim(word, wordPunct))
		if _, drop := f.tokens[bare]; drop && bare != "" {
			dropped = true
			continue
		}
		if b.Len() > 0 {
			b.WriteString(sep)
		}
		b.WriteString(word)
		dropped = false
	}
	return b.String()
}

// Contains reports whether any control token occurs as a whole word.
func (f *Filter) Contains(content string) bool {
	for _, word := range strings.Fields(content) {
		bare := strings.ToLower(strings.Trim(word, wordPunct))
		if _, ok := f.tokens[bare]; ok && bare != "" {
			return true
		}
	}
	return false
}
