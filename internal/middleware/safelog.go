package middleware

import "strings"

// MaskSecret маскирует токены в логах (в prod не светить полный токен).
func MaskSecret(s string) string {
	s = strings.TrimSpace(s)
	if len(s) <= 4 {
		return "****"
	}
	return s[:4] + "***"
}
