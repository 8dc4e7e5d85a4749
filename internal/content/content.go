package content

import (
	"bytes"

	"github.com/microcosm-cc/bluemonday"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
)

var (
	policy = bluemonday.UGCPolicy()

	markdown = goldmark.New(
		goldmark.WithExtensions(extension.GFM),
	)
)

// Render converts message text from markdown to HTML and strips anything
// unsafe with a strict UGC policy. On render failure it falls back to the
// sanitized raw text.
func Render(text string) string {
	var buf bytes.Buffer
	if err := markdown.Convert([]byte(text), &buf); err != nil {
		return policy.Sanitize(text)
	}
	return policy.Sanitize(buf.String())
}

// Sanitize removes unsafe HTML from the input string using a strict policy.
// It is used for plain-text fields like identities and system notices.
func Sanitize(input string) string {
	return policy.Sanitize(input)
}
