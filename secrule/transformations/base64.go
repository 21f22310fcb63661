package transformations

import (
	"bytes"
	"encoding/base64"
)

// base64Unescape decodes base64 input. The strict form stops at the first byte outside the
// base64 alphabet; the permissive form (Ext) skips such bytes. Padding ends the decode either way.
func base64Unescape(s string, permissive bool) string {
	var buf bytes.Buffer
	buf.Grow(len(s) * 3 / 4)

	var bits uint
	var nbits uint
	for i := 0; i < len(s); i++ {
		v := base64Val(s[i])
		if v < 0 {
			if s[i] == '=' {
				break
			}
			if permissive {
				continue
			}
			break
		}

		bits = bits<<6 | uint(v)
		nbits += 6
		if nbits >= 8 {
			nbits -= 8
			buf.WriteByte(byte(bits >> nbits))
		}
	}

	return buf.String()
}

func base64Escape(s string) string {
	return base64.StdEncoding.EncodeToString([]byte(s))
}

func base64Val(c byte) int {
	switch {
	case 'A' <= c && c <= 'Z':
		return int(c - 'A')
	case 'a' <= c && c <= 'z':
		return int(c-'a') + 26
	case '0' <= c && c <= '9':
		return int(c-'0') + 52
	case c == '+':
		return 62
	case c == '/':
		return 63
	}
	return -1
}
