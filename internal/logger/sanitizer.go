package logger

import (
	"fmt"
	"regexp"
	"strings"
	"sync"
)

// Sanitizer masks secrets in log messages and key/value arguments.
//
// Values are only masked when their key looks sensitive, or when the text
// itself matches a rule. A secret passed under an innocent key in a format the
// rules do not recognise is logged as is.
type Sanitizer struct {
	mu    sync.RWMutex
	rules []SanitizeRule
}

// SanitizeRule replaces every match of Pattern
type SanitizeRule struct {
	Pattern     *regexp.Regexp
	Replacement string
}

var sensitiveKeys = []string{
	"password", "passwd", "passphrase",
	"token", "secret", "credential",
	"encryption_key", "identity",
}

// NewSanitizer returns a sanitizer with the default rules
func NewSanitizer() *Sanitizer {
	return &Sanitizer{rules: defaultRules()}
}

func defaultRules() []SanitizeRule {
	return []SanitizeRule{
		{regexp.MustCompile(`AGE-SECRET-KEY-1[0-9A-Z]+`), "AGE-SECRET-KEY-***"},
		{regexp.MustCompile(`(?i)(password|passwd|passphrase)=\S+`), "$1=***"},
		{regexp.MustCompile(`(?i)token=\S+`), "token=***"},
		{regexp.MustCompile(`(?i)bearer\s+\S+`), "bearer ***"},
	}
}

// Sanitize applies every rule to input
func (s *Sanitizer) Sanitize(input string) string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, rule := range s.rules {
		input = rule.Pattern.ReplaceAllString(input, rule.Replacement)
	}
	return input
}

// SanitizeArgs returns a copy of slog style key/value arguments with
// sensitive values masked and string values passed through the rules
func (s *Sanitizer) SanitizeArgs(args []any) []any {
	if len(args) == 0 {
		return args
	}

	result := make([]any, len(args))
	copy(result, args)

	for i := 0; i+1 < len(result); i += 2 {
		key, ok := result[i].(string)
		if !ok {
			continue
		}

		var text string
		switch v := result[i+1].(type) {
		case string:
			text = v
		case error:
			text = v.Error()
		case fmt.Stringer:
			text = v.String()
		default:
			continue
		}

		if isSensitiveKey(key) {
			result[i+1] = maskValue(text)
		} else if clean := s.Sanitize(text); clean != text {
			result[i+1] = clean
		}
	}
	return result
}

// AddRule registers an extra pattern
func (s *Sanitizer) AddRule(pattern, replacement string) error {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return fmt.Errorf("invalid pattern: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.rules = append(s.rules, SanitizeRule{Pattern: re, Replacement: replacement})
	return nil
}

func isSensitiveKey(key string) bool {
	lower := strings.ToLower(key)
	for _, k := range sensitiveKeys {
		if strings.Contains(lower, k) {
			return true
		}
	}
	return false
}

// maskValue keeps the first and last character of long values only
func maskValue(value string) string {
	switch {
	case len(value) <= 2:
		return "***"
	case len(value) <= 8:
		return value[:1] + "***"
	default:
		return value[:1] + "***" + value[len(value)-1:]
	}
}
