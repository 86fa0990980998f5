// Package chatfilter masks profanity and redacts credential-shaped strings
// in chat text. It never rejects input.
package chatfilter

import (
	"regexp"
	"strings"
)

const redacted = "[redacted]"

var defaultWords = []string{
	"asshole", "bastard", "bitch", "bullshit", "crap", "damn", "dick", "fuck",
	"fucking", "motherfucker", "piss", "prick", "shit", "slut", "whore",
}

// Secret shapes: provider API keys, bearer tokens, JWTs, private key blocks
// and long hex strings (wallet keys, hashes pasted by accident).
var defaultSecrets = []*regexp.Regexp{
	regexp.MustCompile(`-----BEGIN [A-Z ]*PRIVATE KEY-----[\s\S]*?(-----END [A-Z ]*PRIVATE KEY-----|$)`),
	regexp.MustCompile(`\bsk-[A-Za-z0-9_\-]{16,}`),
	regexp.MustCompile(`\bgh[pousr]_[A-Za-z0-9]{20,}`),
	regexp.MustCompile(`\bAKIA[0-9A-Z]{16}\b`),
	regexp.MustCompile(`\bxox[abpr]-[A-Za-z0-9\-]{10,}`),
	regexp.MustCompile(`\beyJ[A-Za-z0-9_\-]+\.[A-Za-z0-9_\-]+\.[A-Za-z0-9_\-]+`),
	regexp.MustCompile(`(?i)\bbearer\s+[A-Za-z0-9._\-]{16,}`),
	regexp.MustCompile(`\b(0x)?[0-9a-fA-F]{40,}\b`),
}

type Filter struct {
	words   *regexp.Regexp
	secrets []*regexp.Regexp
}

// New builds a filter over the default word list plus extra.
func New(extra ...string) *Filter {
	words := append(append([]string(nil), defaultWords...), extra...)
	quoted := make([]string, 0, len(words))
	for _, w := range words {
		w = strings.TrimSpace(w)
		if w != "" {
			quoted = append(quoted, regexp.QuoteMeta(w))
		}
	}
	f := &Filter{secrets: defaultSecrets}
	if len(quoted) > 0 {
		f.words = regexp.MustCompile(`(?i)\b(` + strings.Join(quoted, "|") + `)\b`)
	}
	return f
}

// Filter replaces whole-word matches with asterisks of the same rune length.
func (f *Filter) Filter(text string) string {
	if f.words == nil {
		return text
	}
	return f.words.ReplaceAllStringFunc(text, func(m string) string {
		return strings.Repeat("*", len([]rune(m)))
	})
}

func (f *Filter) RedactSecrets(text string) string {
	for _, re := range f.secrets {
		text = re.ReplaceAllString(text, redacted)
	}
	return text
}
