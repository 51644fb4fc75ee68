// Package noise classifies inbound support messages that should never become
// FAQ material: vendor notifications, lesson comment echoes, auto-replies,
// cold outreach, and transactional mail.
package noise

import (
	"regexp"
	"strings"
)

// Reason names the noise category a message was filtered for.
type Reason string

const (
	ReasonNone                Reason = ""
	ReasonSenderDomain        Reason = "sender_domain"
	ReasonLessonComment       Reason = "lesson_comment"
	ReasonAutoReply           Reason = "auto_reply"
	ReasonSpam                Reason = "spam"
	ReasonServiceNotification Reason = "service_notification"
)

// Reasons lists every category in priority order.
var Reasons = []Reason{
	ReasonSenderDomain,
	ReasonLessonComment,
	ReasonAutoReply,
	ReasonSpam,
	ReasonServiceNotification,
}

// Result is the outcome of classifying one message.
type Result struct {
	Filtered bool   `json:"filtered"`
	Reason   Reason `json:"reason,omitempty"`
}

// noiseDomains are senders whose mail is always automated.
var noiseDomains = []string{
	"castingwords.com",
	"stripe.com",
	"paypal.com",
	"convertkit.com",
	"mailchimp.com",
	"sendgrid.net",
	"calendly.com",
	"linkedin.com",
	"facebookmail.com",
	"zendesk.com",
	"intercom-mail.com",
	"mailer-daemon.googlemail.com",
}

var (
	quotedLineRE   = regexp.MustCompile(`(?m)^\s*>`)
	wroteHeaderRE  = regexp.MustCompile(`(?im)^\s*on .{3,200} wrote:\s*$`)
	lessonFooterRE = regexp.MustCompile(`(?im)^\s*lesson\s*:\s*\S`)
)

var autoReplyPatterns = compileAll(
	`\bout of (the )?office\b`,
	`\bon (vacation|holiday|leave) (until|through)\b.{0,120}\b(limited access|respond|reply|get back)\b`,
	`\bautomatic reply\b`,
	`\bauto[- ]?reply\b`,
	`\bauto[- ]?response\b`,
	`\bi('m| am) currently away\b`,
	`\bwill (respond|reply|get back to you) (when|once|upon) (i|my) return`,
	`\blimited access to (my )?e-?mail\b`,
	`\bwe work normal business hours\b`,
	`\bif you email outside of those times\b`,
	// de
	`\babwesenheitsnotiz\b`,
	`\bnicht im büro\b`,
	// fr
	`\bréponse automatique\b`,
	`\bje suis (actuellement )?absent`,
	// es
	`\brespuesta automática\b`,
	`\bfuera de la oficina\b`,
	// pt
	`\bresposta automática\b`,
	`\bfora do escritório\b`,
)

var spamPatterns = compileAll(
	`\breaching out from\b.{0,80}\b(agency|company|studio|startup|team)\b`,
	`\binfluencer (agency|marketing|campaign)`,
	`\bguest post`,
	`\blink ?building\b`,
	`\bseo (services|agency|audit|experts?)\b`,
	`\bpartnership opportunit`,
	`\bbook a (quick )?(call|demo) with (me|us|our team)\b`,
	`\blead generation\b`,
	`\bwhite[- ]label\b`,
	`\bgrow your (audience|revenue|sales)\b`,
	`\bsponsored (post|content)\b`,
)

// notificationPatterns match the phrasing of automated templates, not words a
// customer would use to ask about the same topic.
var notificationPatterns = compileAll(
	`^\s*(your )?receipt from\b`,
	`^\s*your invoice (from|for|is ready)\b`,
	`\bpayment (received|confirmation)( for| from|:)`,
	`\bsomeone requested a password reset\b`,
	`\bif you did(n't| not) request (this|a password reset)\b`,
	`\bclick (the link|here) (below )?to verify your e-?mail\b`,
	`^\s*security alert\b`,
	`\bnew sign-?in (to|on) your\b`,
	`\byour subscription has been (renewed|cancell?ed)\b`,
	`\bthis is an automated (message|notification|e-?mail)\b`,
	`\b(please )?do not reply to this (e-?mail|message)\b`,
)

func compileAll(patterns ...string) []*regexp.Regexp {
	out := make([]*regexp.Regexp, 0, len(patterns))
	for _, p := range patterns {
		out = append(out, regexp.MustCompile(`(?is)`+p))
	}
	return out
}

// Classify checks text (and optionally the sender address) against each noise
// category in priority order. The first match wins.
func Classify(text, senderEmail string) Result {
	if senderEmail != "" && IsNoiseSenderDomain(senderEmail) {
		return Result{Filtered: true, Reason: ReasonSenderDomain}
	}
	if isLessonComment(text) {
		return Result{Filtered: true, Reason: ReasonLessonComment}
	}
	if matchesAny(autoReplyPatterns, text) {
		return Result{Filtered: true, Reason: ReasonAutoReply}
	}
	if matchesAny(spamPatterns, text) {
		return Result{Filtered: true, Reason: ReasonSpam}
	}
	if matchesAny(notificationPatterns, text) {
		return Result{Filtered: true, Reason: ReasonServiceNotification}
	}
	return Result{}
}

// ShouldFilter classifies text without sender information.
func ShouldFilter(text string) Result {
	return Classify(text, "")
}

// IsNoiseSenderDomain reports whether the email's domain, or any parent domain
// of it, is on the noise list.
func IsNoiseSenderDomain(email string) bool {
	at := strings.LastIndex(email, "@")
	if at < 0 || at == len(email)-1 {
		return false
	}
	domain := strings.ToLower(strings.TrimSpace(strings.TrimRight(email[at+1:], ">")))
	for _, d := range noiseDomains {
		if domain == d || strings.HasSuffix(domain, "."+d) {
			return true
		}
	}
	return false
}

// isLessonComment matches a quoted reply that is followed by a "lesson:" footer.
func isLessonComment(text string) bool {
	footer := lessonFooterRE.FindStringIndex(text)
	if footer == nil {
		return false
	}
	quoteStart := -1
	if loc := quotedLineRE.FindStringIndex(text); loc != nil {
		quoteStart = loc[0]
	}
	if loc := wroteHeaderRE.FindStringIndex(text); loc != nil && (quoteStart < 0 || loc[0] < quoteStart) {
		quoteStart = loc[0]
	}
	return quoteStart >= 0 && quoteStart < footer[0]
}

func matchesAny(patterns []*regexp.Regexp, text string) bool {
	for _, re := range patterns {
		if re.MatchString(text) {
			return true
		}
	}
	return false
}
