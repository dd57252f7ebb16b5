package device

import (
	"strings"

	"github.com/go-ble/ble"
)

// sigBaseSuffix is the tail of the Bluetooth SIG base UUID, without dashes.
const sigBaseSuffix = "00001000800000805f9b34fb"

// NormalizeUUID converts a UUID string to the compact lowercase form without
// dashes. A "0x" prefix is stripped and 128-bit UUIDs built on the SIG base
// (0000xxxx-0000-1000-8000-00805f9b34fb) are reduced to their 16-bit form.
// It returns "" when s is not a valid 16 or 128-bit UUID.
func NormalizeUUID(s string) string {
	s = strings.TrimPrefix(strings.ToLower(strings.TrimSpace(s)), "0x")
	u, err := ble.Parse(s)
	if err != nil {
		return ""
	}
	norm := u.String()
	if len(norm) == 32 && strings.HasPrefix(norm, "0000") && strings.HasSuffix(norm, sigBaseSuffix) {
		return norm[4:8]
	}
	return norm
}

// SameUUID reports whether a and b denote the same UUID. Unparseable input
// falls back to a case-insensitive comparison.
func SameUUID(a, b string) bool {
	na, nb := NormalizeUUID(a), NormalizeUUID(b)
	if na == "" || nb == "" {
		return strings.EqualFold(strings.TrimSpace(a), strings.TrimSpace(b))
	}
	return na == nb
}
