// Package phone generates the set of equivalent WhatsApp addresses for a
// raw Brazilian phone number. The transport library has changed its JID
// suffix convention between versions, and carriers added a ninth mobile
// digit that older records may or may not carry, so both sides of a
// lookup must expand a number into every form before comparing.
package phone

import (
	"regexp"
	"strings"
)

// JID suffixes the transport has used across versions, plus the bare
// digit form. Order matters: it is the priority order used when probing
// which form the transport accepts for delivery.
var jidSuffixes = []string{
	"@s.whatsapp.net",
	"@c.us",
	"",
}

var nonDigits = regexp.MustCompile(`\D`)

// Brazilian mobile numbers: country code 55, two-digit area code, then
// either the modern 9-prefixed 9-digit subscriber number or the legacy
// 8-digit one.
var (
	mobileWithNinth    = regexp.MustCompile(`^55\d{2}9\d{8}$`)
	mobileWithoutNinth = regexp.MustCompile(`^55\d{2}[1-9]\d{7}$`)
)

// Variants returns every addressable form of number, most likely first.
// Input may be raw digits, a formatted number or a full JID; anything
// that is not a digit is stripped before matching.
func Variants(number string) []string {
	digits := nonDigits.ReplaceAllString(strings.TrimSpace(number), "")
	if digits == "" {
		return nil
	}

	numeric := []string{digits}
	switch {
	case mobileWithNinth.MatchString(digits):
		// 55 + DDD + 9XXXXXXXX: the legacy record may lack the ninth digit.
		numeric = append(numeric, digits[:4]+digits[5:])
	case mobileWithoutNinth.MatchString(digits):
		numeric = append(numeric, digits[:4]+"9"+digits[4:])
	}

	seen := make(map[string]struct{}, len(numeric)*len(jidSuffixes))
	out := make([]string, 0, len(numeric)*len(jidSuffixes))
	for _, n := range numeric {
		for _, suffix := range jidSuffixes {
			form := n + suffix
			if _, dup := seen[form]; dup {
				continue
			}
			seen[form] = struct{}{}
			out = append(out, form)
		}
	}
	return out
}

// Digits strips everything but digits from a number or JID.
func Digits(number string) string {
	if at := strings.IndexByte(number, '@'); at >= 0 {
		number = number[:at]
	}
	return nonDigits.ReplaceAllString(number, "")
}
