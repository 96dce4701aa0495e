package format

import (
	"html"
	"strings"
)

// Escape escapes text for Telegram HTML parse mode.
func Escape(text string) string {
	return html.EscapeString(text)
}

// Bold wraps escaped text in <b>.
func Bold(text string) string {
	return "<b>" + Escape(text) + "</b>"
}

// Code wraps escaped text in <code>.
func Code(text string) string {
	return "<code>" + Escape(text) + "</code>"
}

// Link renders an anchor; an empty href yields the escaped text alone.
func Link(text, href string) string {
	if strings.TrimSpace(href) == "" {
		return Escape(text)
	}
	return `<a href="` + html.EscapeString(href) + `">` + Escape(text) + "</a>"
}

// Lines joins non-empty lines with newlines.
func Lines(lines ...string) string {
	out := make([]string, 0, len(lines))
	for _, l := range lines {
		if l != "" {
			out = append(out, l)
		}
	}
	return strings.Join(out, "\n")
}
