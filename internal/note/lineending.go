package note

import (
	"fmt"
	"runtime"
	"strings"
)

// LineEnding is the newline policy applied when a note is saved.
type LineEnding string

const (
	// LineEndingNative uses CRLF on Windows and LF elsewhere.
	LineEndingNative LineEnding = "native"
	// LineEndingUnix forces LF everywhere.
	LineEndingUnix LineEnding = "unix"
)

// ParseLineEnding parses a config value. The empty string means native.
func ParseLineEnding(s string) (LineEnding, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", string(LineEndingNative):
		return LineEndingNative, nil
	case string(LineEndingUnix), "lf":
		return LineEndingUnix, nil
	default:
		return "", fmt.Errorf("unknown line ending policy %q (want native or unix)", s)
	}
}

// Apply rewrites every newline in s according to the policy.
func (le LineEnding) Apply(s string) string {
	unix := strings.ReplaceAll(s, "\r\n", "\n")
	unix = strings.ReplaceAll(unix, "\r", "\n")

	if le == LineEndingNative && runtime.GOOS == "windows" {
		return strings.ReplaceAll(unix, "\n", "\r\n")
	}
	return unix
}
