package crm

import (
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/nyaruka/phonenumbers"
)

// DefaultRegion is the region assumed for numbers without a country code.
const DefaultRegion = "US"

// phoneCacheSize bounds the memoized parse results.
const phoneCacheSize = 1024

// PhoneNormalizer canonicalizes caller phone numbers. It is safe for
// concurrent use.
type PhoneNormalizer struct {
	region string
	cache  *lru.Cache[string, string]
}

// NewPhoneNormalizer returns a normalizer assuming region for national
// numbers. An empty region means DefaultRegion.
func NewPhoneNormalizer(region string) *PhoneNormalizer {
	if region == "" {
		region = DefaultRegion
	}
	// lru.New only fails for a non-positive size.
	cache, _ := lru.New[string, string](phoneCacheSize)
	return &PhoneNormalizer{region: strings.ToUpper(region), cache: cache}
}

// Normalize returns the E.164 form of raw when it parses as a valid number.
// Otherwise it keeps the digits and a leading "+", so lookups still match
// numbers stored the same way. Blank input yields "".
func (n *PhoneNormalizer) Normalize(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}

	if out, ok := n.cache.Get(raw); ok {
		return out
	}

	out := StripPhone(raw)
	if num, err := phonenumbers.Parse(raw, n.region); err == nil && phonenumbers.IsValidNumber(num) {
		out = phonenumbers.Format(num, phonenumbers.E164)
	}
	n.cache.Add(raw, out)
	return out
}

// StripPhone removes everything but digits and a leading "+".
func StripPhone(raw string) string {
	var b strings.Builder
	for i, r := range strings.TrimSpace(raw) {
		switch {
		case r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '+' && i == 0:
			b.WriteRune(r)
		}
	}
	return b.String()
}
