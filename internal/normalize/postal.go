package normalize

import (
	"regexp"
	"strings"
)

var (
	usZIP = regexp.MustCompile(`^\d{5}(-\d{4})?$`)
	caPC  = regexp.MustCompile(`^[A-Z]\d[A-Z]\s?\d[A-Z]\d$`)
	gbPC  = regexp.MustCompile(`^[A-Z]{1,2}\d[A-Z\d]?\s?\d[A-Z]{2}$`)
)

// PostalCode validates and reformats a postal code for the given 2-letter
// country. Known countries that fail their pattern are ok=false; unknown
// countries pass through trimmed and upper-cased.
func PostalCode(code, country string) (string, bool) {
	c := strings.ToUpper(strings.TrimSpace(code))
	if c == "" {
		return "", false
	}

	switch strings.ToUpper(strings.TrimSpace(country)) {
	case "US":
		if !usZIP.MatchString(c) {
			return "", false
		}
		return c, true
	case "CA":
		if !caPC.MatchString(c) {
			return "", false
		}
		// Canonical form keeps the single interior space: "A1A 1A1".
		c = strings.ReplaceAll(c, " ", "")
		return c[:3] + " " + c[3:], true
	case "GB":
		if !gbPC.MatchString(c) {
			return "", false
		}
		c = strings.ReplaceAll(c, " ", "")
		return c[:len(c)-3] + " " + c[len(c)-3:], true
	default:
		return c, true
	}
}
