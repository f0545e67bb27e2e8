package identity

import "strings"

// FormatPhone renders digits for display. Stored addresses keep the raw digits.
func FormatPhone(value string) string {
	digits := DigitsOnly(value)
	if digits == "" {
		return ""
	}
	switch {
	case strings.HasPrefix(digits, "55") && (len(digits) == 12 || len(digits) == 13):
		area, local := digits[2:4], digits[4:]
		split := len(local) - 4
		return "+55 (" + area + ") " + local[:split] + "-" + local[split:]
	case strings.HasPrefix(digits, "1") && len(digits) == 11:
		return "+1 (" + digits[1:4] + ") " + digits[4:7] + "-" + digits[7:]
	default:
		return "+" + digits
	}
}

// NormalizeE164 ensures the value begins with + and only contains digits afterward.
func NormalizeE164(value string) string {
	digits := DigitsOnly(strings.TrimSpace(value))
	if digits == "" {
		return ""
	}
	return "+" + digits
}
