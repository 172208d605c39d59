package logger

import (
	"errors"
	"testing"
)

func TestSanitizer_Sanitize(t *testing.T) {
	s := NewSanitizer()

	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{
			name:     "age identity",
			input:    "loaded AGE-SECRET-KEY-1QQPQ2XJ3ZK9R8 from file",
			expected: "loaded AGE-SECRET-KEY-*** from file",
		},
		{
			name:     "password",
			input:    "login with password=secret123",
			expected: "login with password=***",
		},
		{
			name:     "passphrase keeps its name",
			input:    "PASSPHRASE=hunter2 set",
			expected: "PASSPHRASE=*** set",
		},
		{
			name:     "bearer token",
			input:    "Authorization: Bearer eyJhbGc...",
			expected: "Authorization: bearer ***",
		},
		{
			name:     "paths are kept",
			input:    "archived /home/john/photos/a.jpg",
			expected: "archived /home/john/photos/a.jpg",
		},
		{
			name:     "age recipient is public",
			input:    "recipient age1ql3z7hjy54pw3hyww5ayyfg7zqgvc7w3j2elw8zmrj2kg5sfn9aqmcac8p",
			expected: "recipient age1ql3z7hjy54pw3hyww5ayyfg7zqgvc7w3j2elw8zmrj2kg5sfn9aqmcac8p",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := s.Sanitize(tt.input); got != tt.expected {
				t.Errorf("Sanitize() = %q, want %q", got, tt.expected)
			}
		})
	}
}

func TestSanitizer_SanitizeArgs(t *testing.T) {
	s := NewSanitizer()

	args := []any{
		"prefix", "photos",
		"encryption_key", "age1abcdefghijklmnop",
		"err", errors.New("bad identity AGE-SECRET-KEY-1ABC"),
		"files", 42,
		"dangling",
	}
	got := s.SanitizeArgs(args)

	if got[1] != "photos" {
		t.Errorf("plain value changed: %v", got[1])
	}
	if got[3] != "a***p" {
		t.Errorf("sensitive key not masked: %v", got[3])
	}
	if got[5] != "bad identity AGE-SECRET-KEY-***" {
		t.Errorf("error text not sanitized: %v", got[5])
	}
	if got[7] != 42 {
		t.Errorf("non-string value changed: %v", got[7])
	}
	if got[8] != "dangling" {
		t.Errorf("odd trailing argument changed: %v", got[8])
	}
	if args[3] != "age1abcdefghijklmnop" {
		t.Error("input slice must not be modified")
	}
}

func TestSanitizer_AddRule(t *testing.T) {
	s := NewSanitizer()

	if err := s.AddRule(`SSN=\d{3}-\d{2}-\d{4}`, "SSN=***"); err != nil {
		t.Fatalf("AddRule failed: %v", err)
	}
	if got := s.Sanitize("User SSN=123-45-6789 registered"); got != "User SSN=*** registered" {
		t.Errorf("unexpected %q", got)
	}
	if err := s.AddRule(`(`, "x"); err == nil {
		t.Error("expected error for invalid pattern")
	}
}

func TestMaskValue(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"ab", "***"},
		{"abc", "a***"},
		{"abcdefgh", "a***"},
		{"abcdefghi", "a***i"},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			if got := maskValue(tt.input); got != tt.expected {
				t.Errorf("maskValue(%s) = %v, want %v", tt.input, got, tt.expected)
			}
		})
	}
}

func TestIsSensitiveKey(t *testing.T) {
	tests := []struct {
		input    string
		expected bool
	}{
		{"password", true},
		{"ENCRYPTION_KEY", true},
		{"identity_file", true},
		{"token", true},
		{"hash_algorithm", false},
		{"prefix", false},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			if got := isSensitiveKey(tt.input); got != tt.expected {
				t.Errorf("isSensitiveKey(%s) = %v, want %v", tt.input, got, tt.expected)
			}
		})
	}
}
