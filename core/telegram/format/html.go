// Package format holds small text helpers for building HTML message bodies.
package format

import (
	"html"
	"strings"
)

// EscapeHTML escapes text for safe embedding in an HTML message body.
func EscapeHTML(text string) string {
	return html.EscapeString(text)
}

// Bold wraps escaped text in <b> tags.
func Bold(text string) string {
	return "<b>" + html.EscapeString(text) + "</b>"
}

// Italic wraps escaped text in <i> tags.
func Italic(text string) string {
	return "<i>" + html.EscapeString(text) + "</i>"
}

// Code wraps escaped text in <code> tags.
func Code(text string) string {
	return "<code>" + html.EscapeString(text) + "</code>"
}

// ListItem is one line of FormatListToHTML output. A Value-less item
// renders as a bold line on its own.
type ListItem struct {
	Title string
	Value string
}

// FormatListToHTML renders items as HTML lines with bold titles, in the
// form "<b>Title</b>: Value". Content is embedded as-is, so callers may
// pass their own HTML; untrusted text should go through EscapeHTML first.
func FormatListToHTML(items []ListItem) string {
	var b strings.Builder
	for _, item := range items {
		if item.Title != "" {
			b.WriteString("<b>")
			b.WriteString(item.Title)
			b.WriteString("</b>")
			if item.Value != "" {
				b.WriteString(": ")
			}
		}
		if item.Value != "" {
			b.WriteString(item.Value)
		}
		b.WriteString("\n")
	}
	return b.String()
}
