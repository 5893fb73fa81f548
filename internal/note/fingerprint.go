package note

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// Fingerprint returns the hex SHA-256 of data, or "" for empty data.
func Fingerprint(data []byte) string {
	if len(data) == 0 {
		return ""
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// Short returns the first 12 characters of a fingerprint for log output.
func Short(fingerprint string) string {
	if fingerprint == "" {
		return "<null>"
	}
	if len(fingerprint) > 12 {
		return fingerprint[:12]
	}
	return fingerprint
}

// Normalize canonicalizes text for equivalence checks: CRLF and CR become LF,
// trailing blanks are stripped from every line, and trailing newlines are dropped.
func Normalize(s string) string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	s = strings.ReplaceAll(s, "\r", "\n")

	lines := strings.Split(s, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimRight(line, " \t")
	}
	return strings.TrimRight(strings.Join(lines, "\n"), "\n")
}

// Equivalent reports whether a and b differ only in whitespace at line ends
// or in newline style.
func Equivalent(a, b string) bool {
	if a == b {
		return true
	}
	return Normalize(a) == Normalize(b)
}
