package auth

import (
	"fmt"
	"strings"

	"github.com/down/down-service/internal/domain"
)

// blockedUsernames are reserved names that can never be claimed.
var blockedUsernames = map[string]struct{}{
	"admin":   {},
	"support": {},
	"root":    {},
	"down":    {},
	"system":  {},
	"help":    {},
}

// NormalizePhone strips formatting characters and validates the result as an
// E.164 number: a leading plus followed by 8 to 15 digits.
func NormalizePhone(raw string) (string, error) {
	var b strings.Builder
	for _, r := range strings.TrimSpace(raw) {
		switch {
		case r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '+' && b.Len() == 0:
			b.WriteRune(r)
		case r == ' ' || r == '-' || r == '(' || r == ')' || r == '.':
			// formatting noise
		default:
			return "", fmt.Errorf("%w: phone number contains invalid character %q", domain.ErrInvalidInput, r)
		}
	}

	phone := b.String()
	if !strings.HasPrefix(phone, "+") {
		return "", fmt.Errorf("%w: phone number must start with a country code", domain.ErrInvalidInput)
	}
	digits := len(phone) - 1
	if digits < 8 || digits > 15 {
		return "", fmt.Errorf("%w: phone number must have 8 to 15 digits", domain.ErrInvalidInput)
	}
	return phone, nil
}

// NormalizeUsername lowercases and trims a requested username, then checks
// it against the naming rules: 3-24 chars of [a-z0-9._], no leading or
// trailing separator, not a reserved name.
func NormalizeUsername(raw string) (string, error) {
	username := strings.ToLower(strings.TrimSpace(raw))
	if username == "" {
		return "", fmt.Errorf("%w: username is required", domain.ErrInvalidInput)
	}
	if len(username) < 3 || len(username) > 24 {
		return "", fmt.Errorf("%w: username must be 3 to 24 characters", domain.ErrInvalidInput)
	}
	for _, r := range username {
		valid := (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '.' || r == '_'
		if !valid {
			return "", fmt.Errorf("%w: username may only contain lowercase letters, digits, dots and underscores", domain.ErrInvalidInput)
		}
	}
	if strings.HasPrefix(username, ".") || strings.HasPrefix(username, "_") ||
		strings.HasSuffix(username, ".") || strings.HasSuffix(username, "_") {
		return "", fmt.Errorf("%w: username may not start or end with a separator", domain.ErrInvalidInput)
	}
	if _, blocked := blockedUsernames[username]; blocked {
		return "", fmt.Errorf("%w: username %q is reserved", domain.ErrInvalidInput, username)
	}
	return username, nil
}

func validCode(code string) bool {
	if len(code) != 6 {
		return false
	}
	for _, r := range code {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

func normalizeDisplayName(name string) (string, error) {
	trimmed := strings.TrimSpace(name)
	if trimmed == "" {
		return "", fmt.Errorf("%w: display name is required", domain.ErrInvalidInput)
	}
	if len(trimmed) > 50 {
		return "", fmt.Errorf("%w: display name must be at most 50 characters", domain.ErrInvalidInput)
	}
	return trimmed, nil
}
