// Package util holds small helpers shared by the RecruitPipe packages.
package util

import (
	"math/rand/v2"
	"strings"
)

const hexChars = "0123456789abcdef"

// GenerateRandomID returns prefix followed by hexLength random hex characters.
// The ids are not secret; math/rand/v2 is enough.
func GenerateRandomID(prefix string, hexLength int) string {
	return prefix + GenerateRandomHex(hexLength)
}

// GenerateRandomHex returns a random lowercase hex string of the given length.
func GenerateRandomHex(length int) string {
	if length <= 0 {
		return ""
	}
	var b strings.Builder
	b.Grow(length)
	for i := 0; i < length; i++ {
		b.WriteByte(hexChars[rand.IntN(len(hexChars))])
	}
	return b.String()
}

// DryRunSID returns a fake provider message id for sends that never leave the process.
func DryRunSID() string {
	return GenerateRandomID("dry_", 24)
}

// OutreachReference returns a reference for an outreach send that arrived without one.
func OutreachReference() string {
	return GenerateRandomID("ref_", 16)
}

// MaskPhone hides all but the last three digits of a phone number for info-level logs.
func MaskPhone(phone string) string {
	r := []rune(phone)
	if len(r) <= 3 {
		return phone
	}
	var b strings.Builder
	for i, c := range r {
		if i < len(r)-3 && c >= '0' && c <= '9' {
			b.WriteByte('*')
			continue
		}
		b.WriteRune(c)
	}
	return b.String()
}
