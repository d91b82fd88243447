package domain

import (
	"errors"
	"strings"
	"unicode"
	"unicode/utf8"
)

const maxNicknameLength = 16

var (
	ErrNicknameBlank        = errors.New("nickname must not be blank")
	ErrNicknameTooLong      = errors.New("nickname must be at most 16 characters")
	ErrNicknameControlChars = errors.New("nickname must not contain control characters")
	ErrNicknameSpacing      = errors.New("nickname must not contain consecutive whitespace")
)

// NormalizeNickname trims and validates a nickname. Length counts Unicode scalar values.
func NormalizeNickname(raw string) (string, error) {
	name := strings.TrimSpace(raw)
	if name == "" {
		return "", ErrNicknameBlank
	}
	if utf8.RuneCountInString(name) > maxNicknameLength {
		return "", ErrNicknameTooLong
	}
	prevSpace := false
	for _, r := range name {
		if unicode.IsControl(r) {
			return "", ErrNicknameControlChars
		}
		space := unicode.IsSpace(r)
		if space && prevSpace {
			return "", ErrNicknameSpacing
		}
		prevSpace = space
	}
	return name, nil
}
