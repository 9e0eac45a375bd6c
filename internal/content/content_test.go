package content

import (
	"testing"
)

func TestSanitize(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{"Plain text", "Hello World", "Hello World"},
		{"HTML tags", "Hello <b>World</b>", "Hello World"},
		{"Script tag", "<script>alert('xss')</script>Hello", "Hello"},
		{"Entities", "Tom &amp; Jerry", "Tom & Jerry"},
		{"Ampersand", "Tom & Jerry", "Tom & Jerry"},
		{"Terminal escape", "red\x1b[31m alert", "red[31m alert"},
		{"Newline kept", "line1\nline2", "line1\nline2"},
		{"Emoji", "I am 🤖", "I am 🤖"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Sanitize(tt.input); got != tt.expected {
				t.Errorf("Sanitize() = %q, want %q", got, tt.expected)
			}
		})
	}
}

func TestPreview(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		n        int
		expected string
	}{
		{"Short", "hi", 10, "hi"},
		{"Collapses whitespace", "a\n  b", 10, "a b"},
		{"Truncated", "Campus to Airport", 7, "Campus…"},
		{"Runes", "🤖🤖🤖", 2, "🤖…"},
		{"No limit", "anything", 0, "anything"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Preview(tt.input, tt.n); got != tt.expected {
				t.Errorf("Preview() = %q, want %q", got, tt.expected)
			}
		})
	}
}

func TestValidateID(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantErr bool
	}{
		{"Numeric", "42", false},
		{"UUID", "6f1c2a0e-8b7d-4f7e-9a51-3d2c1b0a9f88", false},
		{"Underscore", "ride_7", false},
		{"Slash", "42/../admin", true},
		{"Dot", "ride.42", true},
		{"Space", "4 2", true},
		{"Empty", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := ValidateID(tt.input); (err != nil) != tt.wantErr {
				t.Errorf("ValidateID() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
