package service

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/cwrk-planet/signal-service/internal/domain"
)

const DefaultChatMaxLength = 4000

// ChatPolicy validates chat text before it is relayed. Nothing is stored.
type ChatPolicy struct {
	MaxLength int
}

func NewChatPolicy(maxLength int) ChatPolicy {
	if maxLength <= 0 {
		maxLength = DefaultChatMaxLength
	}
	return ChatPolicy{MaxLength: maxLength}
}

// Normalize trims text and checks it against the policy.
func (p ChatPolicy) Normalize(text string) (string, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return "", domain.ErrEmptyMessage
	}
	if n := utf8.RuneCountInString(text); n > p.MaxLength {
		return "", fmt.Errorf("%w: %d > %d", domain.ErrMessageTooLong, n, p.MaxLength)
	}
	return text, nil
}
