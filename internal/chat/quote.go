package chat

import (
	"strings"
)

const quoteExcerptLen = 100

// Quote is the reply header embedded at the start of a message text.
type Quote struct {
	Name    string `json:"name"`
	Excerpt string `json:"excerpt"`
}

// ComposeText prefixes body with a quote of the replied-to text:
//
//	> {name}: {first 100 chars}{"..." if truncated}
//
// followed by a blank line. A quote already present in quoted is dropped.
func ComposeText(name, quoted, body string) string {
	_, quoted = SplitQuote(quoted)
	excerpt := strings.Join(strings.Fields(quoted), " ")
	if r := []rune(excerpt); len(r) > quoteExcerptLen {
		excerpt = string(r[:quoteExcerptLen]) + "..."
	}
	return "> " + name + ": " + excerpt + "\n\n" + body
}

// SplitQuote separates a quote header from the body. Text without a header
// is returned unchanged with a nil quote.
func SplitQuote(text string) (*Quote, string) {
	if !strings.HasPrefix(text, "> ") {
		return nil, text
	}
	header, body, ok := strings.Cut(text[2:], "\n\n")
	if !ok {
		return nil, text
	}
	name, excerpt, ok := strings.Cut(header, ": ")
	if !ok {
		return nil, text
	}
	return &Quote{Name: name, Excerpt: excerpt}, body
}
