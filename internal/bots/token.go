package bots

import (
	"fmt"
	"strings"

	"github.com/ashureev/botdash/internal/domain"
)

// MinTokenLength is the shortest token accepted before attempting a login.
const MinTokenLength = 50

// ValidateToken trims raw and checks it has the shape of a bot token:
// three non-empty dot-separated segments and at least MinTokenLength characters.
func ValidateToken(raw string) (string, error) {
	token := strings.TrimSpace(raw)
	if token == "" {
		return "", fmt.Errorf("%w: token missing", domain.ErrValidation)
	}
	if len(token) < MinTokenLength {
		return "", fmt.Errorf("%w: token appears to be too short", domain.ErrValidation)
	}
	parts := strings.Split(token, ".")
	if len(parts) != 3 {
		return "", fmt.Errorf("%w: invalid token format", domain.ErrValidation)
	}
	for _, p := range parts {
		if p == "" {
			return "", fmt.Errorf("%w: invalid token format", domain.ErrValidation)
		}
	}
	return token, nil
}
