package sievemanager

import (
	"strconv"
	"strings"
	"time"
)

// State is the input to script synthesis: what is stored for one mailbox,
// with the vacation window already parsed.
type State struct {
	Signature *string
	Vacation  *VacationRule
}

// VacationRule is a stored vacation record resolved to absolute times.
type VacationRule struct {
	Subject string
	Message string
	Start   time.Time
	End     time.Time
}

// ActiveAt reports whether now falls inside [Start, End].
func (v *VacationRule) ActiveAt(now time.Time) bool {
	if v == nil {
		return false
	}
	return !now.Before(v.Start) && !now.After(v.End)
}

// ExpiredAt reports whether the window ended before now.
func (v *VacationRule) ExpiredAt(now time.Time) bool {
	return v != nil && now.After(v.End)
}

const (
	signatureMarker = "# Signature stored in signature.txt\n\n"
	vacationDays    = 1
)

// BuildScript renders the filter script for state as of now. The output
// depends only on its arguments: vacation rule first, signature marker second.
// The signature itself is not applied by the script; the webmail client reads
// signature.txt.
func BuildScript(state State, now time.Time) string {
	var b strings.Builder

	b.WriteString(`require [`)
	for i, ext := range RequiredExtensions {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(`"` + ext + `"`)
	}
	b.WriteString("];\n\n")

	if state.Vacation.ActiveAt(now) {
		b.WriteString("# Vacation message\n")
		b.WriteString("if true {\n")
		b.WriteString("  vacation\n")
		b.WriteString("    :days " + strconv.Itoa(vacationDays) + "\n")
		b.WriteString(`    :subject "` + Quote(state.Vacation.Subject) + "\"\n")
		b.WriteString(`    "` + Quote(state.Vacation.Message) + "\";\n")
		b.WriteString("}\n\n")
	}

	if state.Signature != nil {
		b.WriteString(signatureMarker)
	}

	return b.String()
}

// Quote escapes s for use inside a Sieve quoted string. Backslash and double
// quote are escaped; control characters other than newline and tab are
// dropped, carriage returns included.
func Quote(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		switch {
		case r == '\\' || r == '"':
			b.WriteByte('\\')
			b.WriteRune(r)
		case r == '\n' || r == '\t':
			b.WriteRune(r)
		case r < 0x20 || r == 0x7f:
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}
