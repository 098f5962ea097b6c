package utils

import "testing"

func TestNormalizeTicker(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"AAPL", "AAPL"},
		{"aapl", "AAPL"},
		{" msft ", "MSFT"},
		{"$TSLA", "TSLA"},
		{" $ aapl", "AAPL"},
		{"$", ""},
		{"brk.b", "BRK.B"},
		{"", ""},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			result := NormalizeTicker(tt.input)
			if result != tt.expected {
				t.Errorf("NormalizeTicker(%q) = %q, want %q", tt.input, result, tt.expected)
			}
		})
	}
}

func TestIsPlausibleTicker(t *testing.T) {
	tests := []struct {
		input    string
		expected bool
	}{
		{"AAPL", true},
		{"GOOGL", true},
		{"BRK.B", true},
		{"ABCDEF", true},
		{"ABCDEFG", false},
		{"NONE", false},
		{"", false},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			if got := IsPlausibleTicker(tt.input); got != tt.expected {
				t.Errorf("IsPlausibleTicker(%q) = %v, want %v", tt.input, got, tt.expected)
			}
		})
	}
}

func TestFeedSymbol(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"BRK.B", "BRK-B"},
		{"aapl", "AAPL"},
		{"$bf.a", "BF-A"},
	}

	for _, tt := range tests {
		if got := FeedSymbol(tt.input); got != tt.expected {
			t.Errorf("FeedSymbol(%q) = %q, want %q", tt.input, got, tt.expected)
		}
	}
}
