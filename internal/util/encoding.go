package util

import (
	"strings"

	"golang.org/x/text/unicode/norm"
)

// Normalize returns the NFKD form of s. Secrets are normalised before
// hashing so that visually identical input hashes identically.
func Normalize(s string) string {
	return norm.NFKD.String(s)
}

// NormalizeUsername folds a login name to NFKC, trims surrounding space and
// lower-cases it.
func NormalizeUsername(s string) string {
	return strings.ToLower(strings.TrimSpace(norm.NFKC.String(s)))
}
