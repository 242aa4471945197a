package protocol

import "strings"

// mustEscape is the minimal character set TLCP requires percent-encoded
// in request values, per §4.1 and original_source's EncodingUtils.hpp:
// CR, LF, '%', '+', '&', '='. Everything else travels as-is — this is
// deliberately not full application/x-www-form-urlencoded encoding.
func mustEscape(c byte) bool {
	switch c {
	case '\r', '\n', '%', '+', '&', '=':
		return true
	default:
		return false
	}
}

const hexDigits = "0123456789ABCDEF"

// EncodeValue percent-encodes a request value using TLCP's minimal
// escape set. Hex digits are uppercase two-digit escapes.
func EncodeValue(s string) string {
	needsEscape := false
	for i := 0; i < len(s); i++ {
		if mustEscape(s[i]) {
			needsEscape = true
			break
		}
	}
	if !needsEscape {
		return s
	}

	var b strings.Builder
	b.Grow(len(s) + 8)
	for i := 0; i < len(s); i++ {
		c := s[i]
		if mustEscape(c) {
			b.WriteByte('%')
			b.WriteByte(hexDigits[c>>4])
			b.WriteByte(hexDigits[c&0x0F])
		} else {
			b.WriteByte(c)
		}
	}
	return b.String()
}

// DecodeValue reverses EncodeValue: two-digit %hex escapes become the
// raw byte, everything else passes through unchanged.
func DecodeValue(s string) string {
	if !strings.ContainsRune(s, '%') {
		return s
	}
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		if s[i] == '%' && i+2 < len(s) {
			hi := hexVal(s[i+1])
			lo := hexVal(s[i+2])
			if hi >= 0 && lo >= 0 {
				b.WriteByte(byte(hi<<4 | lo))
				i += 2
				continue
			}
		}
		b.WriteByte(s[i])
	}
	return b.String()
}

func hexVal(c byte) int {
	switch {
	case c >= '0' && c <= '9':
		return int(c - '0')
	case c >= 'A' && c <= 'F':
		return int(c-'A') + 10
	case c >= 'a' && c <= 'f':
		return int(c-'a') + 10
	default:
		return -1
	}
}
