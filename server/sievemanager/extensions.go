package sievemanager

import (
	"fmt"
	"strings"
)

// RequiredExtensions is the capability list every generated script declares.
// The delivery agent's vacation-seconds extension is left out because scripts
// only ever use :days.
var RequiredExtensions = []string{
	"fileinto",
	"envelope",
	"vacation",
	"relational",
	"comparator-i;ascii-numeric",
}

// SupportedExtensions lists the extensions go-sieve (migadu fork) can parse.
// Scripts are linted against this list before they reach the compiler.
var SupportedExtensions = []string{
	"fileinto",
	"envelope",
	"encoded-character",

	"comparator-i;octet",
	"comparator-i;ascii-casemap",
	"comparator-i;ascii-numeric",
	"comparator-i;unicode-casemap",

	"imap4flags",
	"variables",
	"relational",
	"vacation",
	"copy",
	"regex",
}

// ValidateExtensions returns an error naming every extension the linter
// cannot handle.
func ValidateExtensions(extensions []string) error {
	supported := make(map[string]bool, len(SupportedExtensions))
	for _, ext := range SupportedExtensions {
		supported[ext] = true
	}

	var invalid []string
	for _, ext := range extensions {
		if !supported[ext] {
			invalid = append(invalid, ext)
		}
	}
	if len(invalid) > 0 {
		return fmt.Errorf("unsupported sieve extensions: %s (supported: %s)",
			strings.Join(invalid, ", "),
			strings.Join(SupportedExtensions, ", "))
	}
	return nil
}
