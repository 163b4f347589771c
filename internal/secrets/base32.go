package secrets

import "strings"

const base32Alphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ234567"

// Base32Encode encodes b as RFC 4648 base32 without padding, the format
// expected by TOTP authenticator apps.
func Base32Encode(b []byte) string {
	var out strings.Builder
	out.Grow((len(b)*8 + 4) / 5)

	var acc uint
	var bits uint
	for _, by := range b {
		acc = acc<<8 | uint(by)
		bits += 8
		for bits >= 5 {
			bits -= 5
			out.WriteByte(base32Alphabet[(acc>>bits)&0x1f])
		}
	}
	if bits > 0 {
		out.WriteByte(base32Alphabet[(acc<<(5-bits))&0x1f])
	}
	return out.String()
}

// Base32Decode decodes RFC 4648 base32. The decoder is deliberately
// lenient: input is case-insensitive, trailing padding is optional, and
// characters outside the alphabet are skipped rather than rejected. This
// matches how authenticator apps and manual secret entry behave in
// practice and is a documented policy, not an oversight.
func Base32Decode(s string) []byte {
	s = strings.ToUpper(strings.TrimRight(s, "="))

	out := make([]byte, 0, len(s)*5/8)
	var acc uint
	var bits uint
	for i := 0; i < len(s); i++ {
		idx := strings.IndexByte(base32Alphabet, s[i])
		if idx < 0 {
			continue
		}
		acc = acc<<5 | uint(idx)
		bits += 5
		if bits >= 8 {
			bits -= 8
			out = append(out, byte(acc>>bits))
		}
	}
	return out
}
