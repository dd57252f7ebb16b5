package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/srg/bluezctl/internal/bledb"
)

// ParseHexBytes parses whitespace separated hex bytes ("01 0A FF").
// Tokens may carry a 0x prefix. Empty input yields an empty slice.
func ParseHexBytes(s string) ([]byte, error) {
	fields := strings.Fields(s)
	out := make([]byte, 0, len(fields))
	for _, tok := range fields {
		digits := strings.TrimPrefix(strings.TrimPrefix(tok, "0x"), "0X")
		b, err := strconv.ParseUint(digits, 16, 8)
		if err != nil {
			return nil, fmt.Errorf("invalid hex byte %q", tok)
		}
		out = append(out, byte(b))
	}
	return out, nil
}

// FormatHex renders data as "0x01 02  (..)": hex bytes followed by their
// printable ASCII form, with '.' for anything outside 32..126.
func FormatHex(data []byte) string {
	var sb strings.Builder
	sb.WriteString("0x")
	for _, b := range data {
		fmt.Fprintf(&sb, "%02x ", b)
	}
	sb.WriteString(" (")
	for _, b := range data {
		if b >= 32 && b <= 126 {
			sb.WriteByte(b)
		} else {
			sb.WriteByte('.')
		}
	}
	sb.WriteString(")")
	return sb.String()
}

// formatServices lists at most three UUIDs, each followed by its assigned
// name when known; a longer list ends in "...".
func formatServices(uuids []string) string {
	const shown = 3
	more := ""
	if len(uuids) > shown {
		uuids, more = uuids[:shown], "..."
	}
	labels := make([]string, len(uuids))
	for i, u := range uuids {
		labels[i] = u
		if name := bledb.LookupService(u); name != "" {
			labels[i] = u + " (" + name + ")"
		}
	}
	return strings.Join(labels, ", ") + more
}
