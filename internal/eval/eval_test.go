package eval

import (
	"math"
	"testing"
)

func TestIdenticalStringsScoreZero(t *testing.T) {
	wer, err := WER("muraho neza cyane", "muraho neza cyane")
	if err != nil {
		t.Fatalf("wer: %v", err)
	}
	if wer != 0 {
		t.Fatalf("expected wer 0, got %v", wer)
	}
	cer, err := CER("muraho neza", "muraho neza")
	if err != nil {
		t.Fatalf("cer: %v", err)
	}
	if cer != 0 {
		t.Fatalf("expected cer 0, got %v", cer)
	}
}

func TestWERKnownValues(t *testing.T) {
	cases := []struct {
		ref, hyp string
		want     float64
	}{
		{"the quick brown fox", "the quick brown fox", 0},
		{"the quick brown fox", "the slow brown fox", 0.25},
		{"hello world", "", 1},
		{"one", "one two three", 2}, // insertions can push WER past 1
		{"a b c d", "a c d", 0.25},
	}
	for _, tc := range cases {
		got, err := WER(tc.ref, tc.hyp)
		if err != nil {
			t.Fatalf("WER(%q, %q): %v", tc.ref, tc.hyp, err)
		}
		if math.Abs(got-tc.want) > 1e-9 {
			t.Errorf("WER(%q, %q) = %v, want %v", tc.ref, tc.hyp, got, tc.want)
		}
		if got < 0 {
			t.Errorf("WER(%q, %q) negative", tc.ref, tc.hyp)
		}
	}
}

func TestCERKnownValues(t *testing.T) {
	got, err := CER("abcd", "abxd")
	if err != nil {
		t.Fatalf("cer: %v", err)
	}
	if math.Abs(got-0.25) > 1e-9 {
		t.Fatalf("expected cer 0.25, got %v", got)
	}

	got, err = CER("ab", "")
	if err != nil {
		t.Fatalf("cer: %v", err)
	}
	if got != 1 {
		t.Fatalf("expected cer 1 for empty hypothesis, got %v", got)
	}
}

func TestEmptyReferenceRejected(t *testing.T) {
	if _, err := WER("   ", "anything"); err == nil {
		t.Fatal("expected error for blank reference")
	}
	if _, err := CER("", "anything"); err == nil {
		t.Fatal("expected error for empty reference")
	}
}
