// Package htmltext converts HTML event bodies to plain text and extracts
// meeting-join links embedded in anchor tags.
package htmltext

import (
	"strings"

	"golang.org/x/net/html"
)

// Strip renders the text content of an HTML fragment, dropping all markup.
// Script and style bodies are ignored. Plain-text input passes through with
// surrounding whitespace trimmed.
func Strip(s string) string {
	if s == "" {
		return ""
	}

	tok := html.NewTokenizer(strings.NewReader(s))
	var b strings.Builder
	skipDepth := 0

	for {
		switch tok.Next() {
		case html.ErrorToken:
			return collapse(b.String())
		case html.StartTagToken:
			name, _ := tok.TagName()
			if skippable(string(name)) {
				skipDepth++
			}
		case html.EndTagToken:
			name, _ := tok.TagName()
			if skippable(string(name)) && skipDepth > 0 {
				skipDepth--
			}
		case html.TextToken:
			if skipDepth > 0 {
				continue
			}
			text := strings.TrimSpace(string(tok.Text()))
			if text == "" {
				continue
			}
			if b.Len() > 0 {
				b.WriteByte('\n')
			}
			b.WriteString(text)
		}
	}
}

// MeetingLinks returns the href of every anchor in the HTML body whose URL
// contains "/meetup-join", in document order.
func MeetingLinks(s string) []string {
	if s == "" {
		return nil
	}

	tok := html.NewTokenizer(strings.NewReader(s))
	var links []string

	for {
		tt := tok.Next()
		if tt == html.ErrorToken {
			return links
		}
		if tt != html.StartTagToken && tt != html.SelfClosingTagToken {
			continue
		}
		name, hasAttr := tok.TagName()
		if string(name) != "a" || !hasAttr {
			continue
		}
		for {
			key, val, more := tok.TagAttr()
			if string(key) == "href" && strings.Contains(string(val), "/meetup-join") {
				links = append(links, string(val))
			}
			if !more {
				break
			}
		}
	}
}

func skippable(tag string) bool {
	return tag == "script" || tag == "style"
}

func collapse(s string) string {
	return strings.TrimSpace(s)
}
