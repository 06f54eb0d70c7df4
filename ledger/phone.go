package ledger

import "strings"

// NormalizePhone keeps digits only and trims a country or trunk prefix down
// to the last ten digits, so "+91 98765-43210" and "098765 43210" address the
// same party.
func NormalizePhone(phone string) string {
	var b strings.Builder
	for _, r := range phone {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	digits := b.String()
	if len(digits) > 10 {
		digits = digits[len(digits)-10:]
	}
	return digits
}
