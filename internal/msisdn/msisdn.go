// Package msisdn normalizes phone numbers into carrier-routable form,
// canonically "+<countrycode><subscriber>".
package msisdn

import "strings"

// Normalize cleans a raw phone number against the configured country prefix.
// With enabled false the input passes through untouched. The result of an
// enabled run always starts with "+" followed only by digits.
func Normalize(raw string, countryPrefix string, enabled bool) string {
	if !enabled {
		return raw
	}

	if strings.HasPrefix(raw, "00") {
		raw = "+" + raw[2:]
	}

	if strings.HasPrefix(raw, "+") {
		return "+" + digits(raw[1:])
	}

	d := digits(raw)
	d = strings.TrimPrefix(d, countryPrefix)
	return "+" + countryPrefix + d
}

func digits(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// Normalizer binds Normalize to a fixed configuration.
type Normalizer struct {
	CountryPrefix string
	Enabled       bool
}

func (n Normalizer) Normalize(raw string) string {
	return Normalize(raw, n.CountryPrefix, n.Enabled)
}
