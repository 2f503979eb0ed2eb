package ai

import (
	"reflect"
	"testing"

	"betterphone/internal/domain"
)

func TestParseExtraction(t *testing.T) {
	raw := `{"urgencyScore": 8, "painPoints": ["screen time", "social media"], "summary": "Parent is worried.", "sentiment": "negative"}`
	got, err := ParseExtraction(raw)
	if err != nil {
		t.Fatalf("ParseExtraction: %v", err)
	}
	want := domain.ExtractedData{
		UrgencyScore: 8,
		PainPoints:   []string{"screen time", "social media"},
		Summary:      "Parent is worried.",
		Sentiment:    "negative",
	}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("got %+v want %+v", got, want)
	}
}

func TestParseExtractionStripsMarkdownFence(t *testing.T) {
	raw := "```json\n{\"urgencyScore\": 5, \"painPoints\": [], \"summary\": \"ok\", \"sentiment\": \"neutral\"}\n```"
	got, err := ParseExtraction(raw)
	if err != nil {
		t.Fatalf("ParseExtraction: %v", err)
	}
	if got.UrgencyScore != 5 || got.Summary != "ok" {
		t.Fatalf("unexpected result %+v", got)
	}
}

func TestParseExtractionClampsAndDefaults(t *testing.T) {
	cases := []struct {
		name    string
		raw     string
		urgency int
		sent    string
	}{
		{"urgency too high", `{"urgencyScore": 42, "sentiment": "negative"}`, 10, "negative"},
		{"urgency too low", `{"urgencyScore": 0, "sentiment": "positive"}`, 1, "positive"},
		{"bad sentiment", `{"urgencyScore": 3, "sentiment": "angry"}`, 3, "neutral"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := ParseExtraction(tc.raw)
			if err != nil {
				t.Fatalf("ParseExtraction: %v", err)
			}
			if got.UrgencyScore != tc.urgency {
				t.Fatalf("urgency = %d, want %d", got.UrgencyScore, tc.urgency)
			}
			if got.Sentiment != tc.sent {
				t.Fatalf("sentiment = %q, want %q", got.Sentiment, tc.sent)
			}
		})
	}
}

func TestParseExtractionRejectsNonJSON(t *testing.T) {
	if _, err := ParseExtraction("the parent seems concerned"); err == nil {
		t.Fatal("expected error for non-JSON reply")
	}
}
