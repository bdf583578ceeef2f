package pipeline

import (
	"regexp"
	"strings"

	"salesbot-wa-be/pkg/whatsapp/driver"
)

const (
	minPhoneDigits = 8
	maxPhoneDigits = 15
)

var (
	leadingZeros = regexp.MustCompile(`^(55)?0+`)
	runOfOnes    = regexp.MustCompile(`^(55)?1{10,}`)
)

// NormalizePhone reduces a sender id to digits and adds the Brazilian
// country code to bare local numbers.
func NormalizePhone(sender string) string {
	raw := driver.PhoneFromJID(sender)
	switch {
	case len(raw) == 10 && strings.HasPrefix(raw, "11"):
		return "55" + raw
	case len(raw) == 11 && !strings.HasPrefix(raw, "55"):
		return "55" + raw
	}
	return raw
}

// ValidPhone rejects ids that cannot be a customer: wrong length, a single
// repeated digit, leading zeros or a long run of ones.
func ValidPhone(phone string) bool {
	if len(phone) < minPhoneDigits || len(phone) > maxPhoneDigits {
		return false
	}
	if strings.Count(phone, phone[:1]) == len(phone) {
		return false
	}
	return !leadingZeros.MatchString(phone) && !runOfOnes.MatchString(phone)
}
