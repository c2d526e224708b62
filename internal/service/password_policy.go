package service

import (
	"unicode/utf8"

	"connect-api/internal/domain"
)

const (
	PasswordMinLength = 8

	MsgPasswordPolicy = "Password must be at least 8 characters with one uppercase letter and one number"
)

// ValidatePassword 至少 8 个字符，至少一个 A-Z，至少一个 0-9。上限由请求绑定控制。
func ValidatePassword(pw string) error {
	if utf8.RuneCountInString(pw) < PasswordMinLength {
		return domain.Validation(MsgPasswordPolicy)
	}
	var upper, digit bool
	for _, r := range pw {
		switch {
		case r >= 'A' && r <= 'Z':
			upper = true
		case r >= '0' && r <= '9':
			digit = true
		}
	}
	if !upper || !digit {
		return domain.Validation(MsgPasswordPolicy)
	}
	return nil
}
