package timeparse

import (
	"errors"
	"testing"
	"time"
)

var base = time.Date(2025, 3, 10, 14, 0, 0, 0, time.UTC) // Monday 14:00

func TestWhenVariants(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name   string
		phrase string
		want   time.Time
	}{
		{name: "in duration", phrase: "in 10m", want: base.Add(10 * time.Minute)},
		{name: "in words", phrase: "in 2 hours", want: base.Add(2 * time.Hour)},
		{name: "bare duration", phrase: "90s", want: base.Add(90 * time.Second)},
		{name: "bare words", phrase: "10 minutes", want: base.Add(10 * time.Minute)},
		{name: "at later today", phrase: "at 18:30", want: time.Date(2025, 3, 10, 18, 30, 0, 0, time.UTC)},
		{name: "clock without at", phrase: "18:30", want: time.Date(2025, 3, 10, 18, 30, 0, 0, time.UTC)},
		{name: "at already past rolls over", phrase: "at 9:00", want: time.Date(2025, 3, 11, 9, 0, 0, 0, time.UTC)},
		{name: "pm clock", phrase: "at 6:30 pm", want: time.Date(2025, 3, 10, 18, 30, 0, 0, time.UTC)},
		{name: "am clock rolls over", phrase: "at 6:30am", want: time.Date(2025, 3, 11, 6, 30, 0, 0, time.UTC)},
		{name: "tomorrow", phrase: "tomorrow", want: base.AddDate(0, 0, 1)},
		{name: "tomorrow at", phrase: "tomorrow at 9:00", want: time.Date(2025, 3, 11, 9, 0, 0, 0, time.UTC)},
		{name: "case insensitive", phrase: "Tomorrow At 9:00", want: time.Date(2025, 3, 11, 9, 0, 0, 0, time.UTC)},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			got, err := When(tt.phrase, base)
			if err != nil {
				t.Fatalf("When(%q) error: %v", tt.phrase, err)
			}
			if !got.Equal(tt.want) {
				t.Fatalf("When(%q) = %v, want %v", tt.phrase, got, tt.want)
			}
		})
	}
}

func TestWhenUnparseable(t *testing.T) {
	t.Parallel()
	for _, phrase := range []string{"", "whenever", "at 25:00", "in", "yesterday"} {
		if _, err := When(phrase, base); !errors.Is(err, ErrUnparseable) {
			t.Fatalf("When(%q) err = %v, want ErrUnparseable", phrase, err)
		}
	}
}

func TestSpanVariants(t *testing.T) {
	t.Parallel()
	tests := []struct {
		phrase string
		want   time.Duration
	}{
		{phrase: "10m", want: 10 * time.Minute},
		{phrase: "1h30m", want: 90 * time.Minute},
		{phrase: "10 minutes", want: 10 * time.Minute},
		{phrase: "10min", want: 10 * time.Minute},
		{phrase: "2 hours 30 minutes", want: 150 * time.Minute},
		{phrase: "1 day", want: 24 * time.Hour},
		{phrase: "45 secs", want: 45 * time.Second},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.phrase, func(t *testing.T) {
			got, err := Span(tt.phrase)
			if err != nil {
				t.Fatalf("Span(%q) error: %v", tt.phrase, err)
			}
			if got != tt.want {
				t.Fatalf("Span(%q) = %v, want %v", tt.phrase, got, tt.want)
			}
		})
	}
}

func TestSpanInvalid(t *testing.T) {
	t.Parallel()
	for _, phrase := range []string{"", "soon", "ten minutes", "5 lightyears"} {
		if _, err := Span(phrase); err == nil {
			t.Fatalf("Span(%q) expected error", phrase)
		}
	}
	// Zero and negative are rejected even though they parse.
	for _, phrase := range []string{"0s", "-5m"} {
		if _, err := Span(phrase); err == nil {
			t.Fatalf("Span(%q) expected error", phrase)
		}
	}
}
