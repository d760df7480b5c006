package helpers

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewAddress(t *testing.T) {
	tests := []struct {
		name          string
		input         string
		wantFull      string
		wantLocalPart string
		wantDomain    string
		wantErr       bool
	}{
		{name: "simple", input: "bob@acme.test", wantFull: "bob@acme.test", wantLocalPart: "bob", wantDomain: "acme.test"},
		{name: "uppercase is normalized", input: "Bob.Smith@ACME.Test", wantFull: "bob.smith@acme.test", wantLocalPart: "bob.smith", wantDomain: "acme.test"},
		{name: "surrounding whitespace trimmed", input: "  bob@acme.test\n", wantFull: "bob@acme.test", wantLocalPart: "bob", wantDomain: "acme.test"},
		{name: "plus detail", input: "bob+tag@acme.test", wantFull: "bob+tag@acme.test", wantLocalPart: "bob+tag", wantDomain: "acme.test"},
		{name: "subdomain", input: "ops@mail.acme.test", wantFull: "ops@mail.acme.test", wantLocalPart: "ops", wantDomain: "mail.acme.test"},
		{name: "unicode local part", input: "jörg@acme.test", wantFull: "jörg@acme.test", wantLocalPart: "jörg", wantDomain: "acme.test"},
		{name: "unicode domain", input: "info@münchen.de", wantFull: "info@münchen.de", wantLocalPart: "info", wantDomain: "münchen.de"},
		{name: "fullwidth dot in domain", input: "bob@acme。test", wantFull: "bob@acme.test", wantLocalPart: "bob", wantDomain: "acme.test"},
		{name: "punycode domain", input: "info@xn--mnchen-3ya.de", wantFull: "info@münchen.de", wantLocalPart: "info", wantDomain: "münchen.de"},
		{name: "empty", input: "", wantErr: true},
		{name: "missing at", input: "bob.acme.test", wantErr: true},
		{name: "two at signs", input: "bob@acme@test.com", wantErr: true},
		{name: "empty local part", input: "@acme.test", wantErr: true},
		{name: "leading dot", input: ".bob@acme.test", wantErr: true},
		{name: "double dot", input: "bo..b@acme.test", wantErr: true},
		{name: "inner whitespace", input: "bo b@acme.test", wantErr: true},
		{name: "invalid domain", input: "bob@-acme.test", wantErr: true},
		{name: "single label domain", input: "bob@localhost", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			addr, err := NewAddress(tt.input)
			if tt.wantErr {
				assert.Error(t, err)
				assert.False(t, IsValidEmail(tt.input))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantFull, addr.FullAddress())
			assert.Equal(t, tt.wantLocalPart, addr.LocalPart())
			assert.Equal(t, tt.wantDomain, addr.Domain())
		})
	}
}

func TestNewAddressRejectsOverlongLocalPart(t *testing.T) {
	local := make([]byte, 65)
	for i := range local {
		local[i] = 'a'
	}
	_, err := NewAddress(string(local) + "@acme.test")
	assert.Error(t, err)
}

func TestValidateDomain(t *testing.T) {
	tests := []struct {
		input   string
		want    string
		wantErr bool
	}{
		{input: "example.com", want: "example.com"},
		{input: "Example.COM", want: "example.com"},
		{input: "mail.example.co.uk", want: "mail.example.co.uk"},
		{input: "a-b.example", want: "a-b.example"},
		{input: "1and1.com", want: "1and1.com"},
		{input: "bücher.example", want: "bücher.example"},
		{input: "example.xn--p1ai", want: "example.рф"},
		{input: "example。com", want: "example.com"},
		{input: "ｅxample.com", want: "example.com"},
		{input: "BÜCHER.example", want: "bücher.example"},
		{input: "xn--bcher-kva.example", want: "bücher.example"},
		{input: "", wantErr: true},
		{input: "   ", wantErr: true},
		{input: "localhost", wantErr: true},
		{input: "-example.com", wantErr: true},
		{input: "example-.com", wantErr: true},
		{input: "example.c", wantErr: true},
		{input: "example.123", wantErr: true},
		{input: "exa mple.com", wantErr: true},
		{input: "example..com", wantErr: true},
		{input: "under_score.com", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ValidateDomain(tt.input)
			if tt.wantErr {
				assert.Error(t, err)
				assert.False(t, IsValidDomain(tt.input))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestSplitEmailAddress(t *testing.T) {
	local, domain := SplitEmailAddress("Bob@Acme.Test")
	assert.Equal(t, "bob", local)
	assert.Equal(t, "acme.test", domain)

	local, domain = SplitEmailAddress("nodomain")
	assert.Equal(t, "nodomain", local)
	assert.Equal(t, "", domain)
}

func TestCanonicalForms(t *testing.T) {
	assert.Equal(t, "example.com", CanonicalDomain(" ｅxample。COM "))
	assert.Equal(t, "not a domain", CanonicalDomain(" Not A Domain "))
	assert.Equal(t, "", CanonicalDomain(""))

	assert.Equal(t, "bob@example.com", CanonicalAddress("Bob@example。com"))
	assert.Equal(t, "no-at-sign", CanonicalAddress(" No-At-Sign "))
}
