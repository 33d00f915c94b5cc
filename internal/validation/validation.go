// Package validation содержит функции валидации входных данных.
package validation

import "unicode/utf8"

const maxPhoneLength = 112

// IsValidPhone проверяет, что контактный телефон непустой и не длиннее 112 символов.
func IsValidPhone(phone string) bool {
	n := utf8.RuneCountInString(phone)
	return n >= 1 && n <= maxPhoneLength
}

// IsValidBottleCount проверяет, что количество бутылей неотрицательно.
func IsValidBottleCount(n int) bool {
	return n >= 0
}
