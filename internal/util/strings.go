package util

// SafeTruncate truncates s to maxLen bytes without panicking. Used when
// logging token material, where only a short prefix may appear in logs.
// A negative maxLen returns an empty string.
func SafeTruncate(s string, maxLen int) string {
	if maxLen < 0 {
		return ""
	}
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen]
}
