package noise

import (
	"strings"
	"testing"
)

func TestIsNoiseSenderDomain(t *testing.T) {
	tests := []struct {
		email string
		want  bool
	}{
		{"notify@castingwords.com", true},
		{"billing@mail.stripe.com", true},
		{"user@gmail.com", false},
		{"someone@notcastingwords.com", false},
		{"no-at-sign", false},
		{"trailing@", false},
		{"Support <receipts@PayPal.com>", true},
	}
	for _, tt := range tests {
		if got := IsNoiseSenderDomain(tt.email); got != tt.want {
			t.Errorf("IsNoiseSenderDomain(%q) = %v, want %v", tt.email, got, tt.want)
		}
	}
}

func TestShouldFilterSpam(t *testing.T) {
	got := ShouldFilter("I'm reaching out from Head, an AI-powered influencer agency")
	if !got.Filtered || got.Reason != ReasonSpam {
		t.Fatalf("expected spam, got %+v", got)
	}
}

func TestClassifyCategories(t *testing.T) {
	tests := []struct {
		name   string
		text   string
		sender string
		want   Reason
	}{
		{
			name: "auto reply english",
			text: "Thanks for your email. I am currently out of the office until Monday.",
			want: ReasonAutoReply,
		},
		{
			name: "auto reply german",
			text: "Abwesenheitsnotiz: Ich bin derzeit nicht im Büro.",
			want: ReasonAutoReply,
		},
		{
			name: "auto reply spanish",
			text: "Respuesta automática: estoy fuera de la oficina",
			want: ReasonAutoReply,
		},
		{
			name: "service notification",
			text: "Your receipt from Acme Inc. Payment received for $49.00",
			want: ReasonServiceNotification,
		},
		{
			name: "password reset notification",
			text: "Someone requested a password reset for your account.",
			want: ReasonServiceNotification,
		},
		{
			name: "lesson comment",
			text: "Great question about closures!\n\n> how do closures capture variables?\n\nlesson: Closures in Depth",
			want: ReasonLessonComment,
		},
		{
			name: "lesson footer without quote passes",
			text: "lesson: Closures in Depth\nI can't get the exercise to run, can you help me?",
			want: ReasonNone,
		},
		{
			name: "real question passes",
			text: "Hi, I bought the course last week but I can't log in to watch the videos. Can you help?",
			want: ReasonNone,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Classify(tt.text, tt.sender)
			if got.Reason != tt.want {
				t.Fatalf("Classify() reason = %q, want %q", got.Reason, tt.want)
			}
			if got.Filtered != (tt.want != ReasonNone) {
				t.Fatalf("Classify() filtered = %v for reason %q", got.Filtered, got.Reason)
			}
		})
	}
}

func TestClassifyPriorityOrder(t *testing.T) {
	// Sender domain outranks text content.
	got := Classify("I am currently out of the office", "robot@castingwords.com")
	if got.Reason != ReasonSenderDomain {
		t.Fatalf("expected sender_domain to win, got %q", got.Reason)
	}

	// Auto-reply outranks spam and notifications when both match.
	got = Classify("Automatic reply: out of office. Also, book a call to grow your audience!", "")
	if got.Reason != ReasonAutoReply {
		t.Fatalf("expected auto_reply to win over spam, got %q", got.Reason)
	}

	// Spam outranks service notification.
	got = Classify("Partnership opportunity! This is an automated message.", "")
	if got.Reason != ReasonSpam {
		t.Fatalf("expected spam to win over service_notification, got %q", got.Reason)
	}
}

func TestFilterStats(t *testing.T) {
	stats := NewFilterStats()
	stats.Record(Result{})
	stats.Record(Result{Filtered: true, Reason: ReasonSpam})
	stats.Record(Result{Filtered: true, Reason: ReasonSpam})
	stats.Record(Result{Filtered: true, Reason: ReasonAutoReply})

	if stats.Total != 4 || stats.Passed != 1 || stats.Filtered != 3 {
		t.Fatalf("unexpected totals: %+v", stats)
	}
	if stats.ByReason[ReasonSpam] != 2 || stats.ByReason[ReasonAutoReply] != 1 {
		t.Fatalf("unexpected by-reason counts: %+v", stats.ByReason)
	}
	if !strings.Contains(stats.String(), "spam=2") {
		t.Fatalf("expected summary to mention spam=2, got %q", stats.String())
	}
}

func TestCustomerQuestionsPass(t *testing.T) {
	questions := []string{
		"My payment failed when I tried to buy the course, can you help?",
		"I never received my order confirmation email.",
		"The password reset link you sent does not work.",
		"Could you send me a copy of invoice 4821?",
		"Can I pause my subscription while I am on vacation?",
		"Can I book a call with you about a team license?",
		"I was charged twice. Where can I find my receipt?",
		"Is there an auto-renew setting I can turn off?",
		"I'm away from my laptop until Friday, can I still access the course on my phone?",
	}
	for _, q := range questions {
		if got := ShouldFilter(q); got.Filtered {
			t.Errorf("ShouldFilter(%q) = %q, want pass", q, got.Reason)
		}
	}
}

func TestTemplatePhrasingStillFiltered(t *testing.T) {
	tests := []struct {
		text string
		want Reason
	}{
		{"Your invoice from Acme is ready to download.", ReasonServiceNotification},
		{"This is an automated message. Please do not reply to this email.", ReasonServiceNotification},
		{"Security alert: new sign-in to your account from Chrome on Mac.", ReasonServiceNotification},
		{"Your subscription has been renewed for another year.", ReasonServiceNotification},
		{"I am on vacation until May 3 and will reply when I am back.", ReasonAutoReply},
		{"Book a quick call with our team to grow your audience.", ReasonSpam},
	}
	for _, tt := range tests {
		if got := ShouldFilter(tt.text); got.Reason != tt.want {
			t.Errorf("ShouldFilter(%q) = %q, want %q", tt.text, got.Reason, tt.want)
		}
	}
}
