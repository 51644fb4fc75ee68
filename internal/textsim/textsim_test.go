package textsim

import (
	"math"
	"testing"
)

func TestNormalize(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"  Hello, World!  ", "hello world"},
		{"can't log-in??", "can t log in"},
		{"", ""},
		{"Refund_for   order #42", "refund for order 42"},
	}
	for _, tt := range tests {
		if got := Normalize(tt.in); got != tt.want {
			t.Errorf("Normalize(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestWordSetDropsShortWords(t *testing.T) {
	set := WordSet("How do I get a refund on my order?")
	for _, short := range []string{"how", "get", "refund", "order"} {
		if _, ok := set[short]; !ok {
			t.Errorf("expected %q in word set", short)
		}
	}
	for _, dropped := range []string{"do", "i", "a", "on", "my"} {
		if _, ok := set[dropped]; ok {
			t.Errorf("did not expect %q in word set", dropped)
		}
	}
}

func TestJaccard(t *testing.T) {
	if got := TextJaccard("reset my password please", "please reset my password"); got != 1 {
		t.Fatalf("expected identical word sets to score 1, got %.3f", got)
	}
	if got := TextJaccard("", ""); got != 0 {
		t.Fatalf("expected empty sets to score 0, got %.3f", got)
	}
	got := TextJaccard("refund course purchase", "refund workshop purchase")
	if math.Abs(got-0.5) > 1e-9 {
		t.Fatalf("expected 0.5, got %.3f", got)
	}
}

func TestCosine(t *testing.T) {
	if got := Cosine([]float32{1, 0}, []float32{1, 0}); math.Abs(got-1) > 1e-9 {
		t.Fatalf("identical vectors: got %.3f", got)
	}
	if got := Cosine([]float32{1, 0}, []float32{0, 1}); got != 0 {
		t.Fatalf("orthogonal vectors: got %.3f", got)
	}
	if got := Cosine([]float32{0, 0}, []float32{1, 1}); got != 0 {
		t.Fatalf("zero vector should yield 0, got %.3f", got)
	}
	if got := Cosine([]float32{1}, []float32{1, 2}); got != 0 {
		t.Fatalf("length mismatch should yield 0, got %.3f", got)
	}
}
