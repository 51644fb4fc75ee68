package miner

import (
	"html"
	"strings"
	"unicode/utf8"

	"github.com/hurttlocker/faqmine/internal/faq"
	"github.com/microcosm-cc/bluemonday"
)

// MinTextLength is the minimum length, in characters, of a usable question or
// answer.
const MinTextLength = 20

// stripPolicy removes every tag. Policies are safe for concurrent use once
// built.
var stripPolicy = bluemonday.StrictPolicy()

// StripHTML reduces an HTML body to plain text with collapsed whitespace.
func StripHTML(body string) string {
	if strings.TrimSpace(body) == "" {
		return ""
	}
	// Block-level breaks become spaces so adjacent paragraphs don't fuse.
	r := strings.NewReplacer("<br>", " ", "<br/>", " ", "<br />", " ", "</p>", " ", "</div>", " ", "</li>", " ")
	stripped := stripPolicy.Sanitize(r.Replace(body))
	return strings.Join(strings.Fields(html.UnescapeString(stripped)), " ")
}

// messageText returns the plain text of m, falling back to the stripped HTML
// body when no text part exists.
func messageText(m faq.Message) string {
	if t := strings.TrimSpace(m.Text); t != "" {
		return t
	}
	return StripHTML(m.BodyHTML)
}

// ExtractQuestion returns the text of the first inbound message.
func ExtractQuestion(msgs []faq.Message) string {
	for _, m := range msgs {
		if m.Inbound {
			return messageText(m)
		}
	}
	return ""
}

// ExtractAnswer returns the text of the last outbound message.
func ExtractAnswer(msgs []faq.Message) string {
	for i := len(msgs) - 1; i >= 0; i-- {
		if !msgs[i].Inbound {
			return messageText(msgs[i])
		}
	}
	return ""
}

// FirstInboundSender returns the author address of the first inbound message.
func FirstInboundSender(msgs []faq.Message) string {
	for _, m := range msgs {
		if m.Inbound {
			return m.AuthorEmail
		}
	}
	return ""
}

func tooShort(s string) bool {
	return utf8.RuneCountInString(strings.TrimSpace(s)) < MinTextLength
}
