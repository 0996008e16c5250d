package karchive

import (
	"encoding/hex"
	"strings"
)

const maxHexDump = 32

func rpad(s string, n int, pad rune) string {
	rem := n - len(s)
	if rem <= 0 {
		return s
	}
	return s + strings.Repeat(string(pad), rem)
}

func hexstr(b []byte) string {
	if b == nil {
		return "<nil>"
	}
	if len(b) == 0 {
		return "<empty>"
	}
	if len(b) > maxHexDump {
		return hex.EncodeToString(b[:maxHexDump]) + "..."
	}
	return hex.EncodeToString(b)
}
