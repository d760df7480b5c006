package helpers

import (
	"fmt"
	"regexp"
	"strings"

	"golang.org/x/net/idna"
)

// DomainNameRegex matches the ASCII (IDNA) form of a domain: labels of
// letters, digits and inner hyphens, at least two labels, and a TLD that is
// either 2+ letters or an A-label.
const DomainNameRegex = `^(?:[a-z0-9](?:[a-z0-9-]{0,61}[a-z0-9])?\.)+(?:[a-z]{2,63}|xn--[a-z0-9-]{1,59})$`

const maxDomainLength = 253

var domainPattern = regexp.MustCompile(DomainNameRegex)

var idnaProfile = idna.New(
	idna.MapForLookup(),
	idna.Transitional(false),
	idna.StrictDomainName(true),
)

// ValidateDomain checks a domain name against the grammar and returns its
// canonical form: the UTS 46 mapped Unicode name, so every spelling of one
// DNS domain yields the same key. Unicode names are accepted when their
// A-label form is valid.
func ValidateDomain(name string) (string, error) {
	normalized := strings.ToLower(strings.TrimSpace(name))
	if normalized == "" {
		return "", fmt.Errorf("domain is empty")
	}

	ascii, err := idnaProfile.ToASCII(normalized)
	if err != nil {
		return "", fmt.Errorf("unacceptable domain: '%s': %v", normalized, err)
	}

	if len(ascii) > maxDomainLength || !domainPattern.MatchString(ascii) {
		return "", fmt.Errorf("unacceptable domain: '%s'", normalized)
	}

	canonical, err := idnaProfile.ToUnicode(ascii)
	if err != nil {
		return "", fmt.Errorf("unacceptable domain: '%s': %v", normalized, err)
	}
	return canonical, nil
}

// CanonicalDomain returns the ValidateDomain form of name, or its trimmed
// lowercase form when name is not a valid domain. Used for lookups.
func CanonicalDomain(name string) string {
	if canonical, err := ValidateDomain(name); err == nil {
		return canonical
	}
	return strings.ToLower(strings.TrimSpace(name))
}

// IsValidDomain reports whether name passes ValidateDomain.
func IsValidDomain(name string) bool {
	_, err := ValidateDomain(name)
	return err == nil
}
