package helpers

import (
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"
)

// LocalPartRegex accepts an RFC 5322 dot-atom built from atext, extended
// with Unicode letters, marks and digits for internationalized local parts (RFC 6531).
const LocalPartRegex = `^(?:[\p{L}\p{M}\p{N}!#$%&'*+/=?^_{|}~-])+(?:\.(?:[\p{L}\p{M}\p{N}!#$%&'*+/=?^_{|}~-])+)*$`

const (
	maxLocalPartLength = 64
	maxAddressLength   = 254
)

var localPartPattern = regexp.MustCompile(LocalPartRegex)

type Address struct {
	fullAddress string
	localPart   string
	domain      string
}

// NewAddress validates an email address and returns its normalized
// (trimmed, lowercased) form.
func NewAddress(address string) (Address, error) {
	input := strings.ToLower(strings.TrimSpace(address))

	if input == "" {
		return Address{}, fmt.Errorf("address is empty")
	}

	if strings.ContainsAny(input, " \t\n\r") {
		return Address{}, fmt.Errorf("address contains whitespace: '%s'", input)
	}

	if len(input) > maxAddressLength {
		return Address{}, fmt.Errorf("address is longer than %d octets", maxAddressLength)
	}

	at := strings.LastIndex(input, "@")
	if at == -1 {
		return Address{}, fmt.Errorf("address missing @: '%s'", input)
	}
	if strings.Count(input, "@") > 1 {
		return Address{}, fmt.Errorf("too many @ symbols in address: '%s'", input)
	}

	localPart := input[:at]
	domain := input[at+1:]

	if localPart == "" || len(localPart) > maxLocalPartLength || !utf8.ValidString(localPart) {
		return Address{}, fmt.Errorf("unacceptable local part: '%s'", localPart)
	}
	if !localPartPattern.MatchString(localPart) {
		return Address{}, fmt.Errorf("unacceptable local part: '%s'", localPart)
	}

	normalizedDomain, err := ValidateDomain(domain)
	if err != nil {
		return Address{}, err
	}

	return Address{
		fullAddress: localPart + "@" + normalizedDomain,
		localPart:   localPart,
		domain:      normalizedDomain,
	}, nil
}

func (a Address) FullAddress() string {
	return a.fullAddress
}

func (a Address) LocalPart() string {
	return a.localPart
}

func (a Address) Domain() string {
	return a.domain
}

func (a Address) String() string {
	return a.fullAddress
}

// IsValidEmail reports whether address passes NewAddress.
func IsValidEmail(address string) bool {
	_, err := NewAddress(address)
	return err == nil
}

// CanonicalAddress returns the NewAddress form of address, or its trimmed
// lowercase form when address does not validate. Used for lookups.
func CanonicalAddress(address string) string {
	if addr, err := NewAddress(address); err == nil {
		return addr.FullAddress()
	}
	return strings.ToLower(strings.TrimSpace(address))
}

// SplitEmailAddress splits an address at its last @ without validating it.
func SplitEmailAddress(email string) (string, string) {
	email = strings.ToLower(email)
	at := strings.LastIndex(email, "@")
	if at == -1 {
		return email, ""
	}
	return email[:at], email[at+1:]
}
