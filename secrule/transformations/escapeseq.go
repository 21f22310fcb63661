package transformations

import (
	"bytes"
	"strconv"
	"strings"
)

// EscapeSeqUnescape decodes ANSI C escape sequences: \a \b \f \n \r \t \v \\ \? \' \"
// plus \xHH hex and \OOO octal forms. Invalid sequences are left as is.
func EscapeSeqUnescape(input string) string {
	if !strings.Contains(input, "\\") {
		return input
	}

	var buf bytes.Buffer
	buf.Grow(len(input))

	for i := 0; i < len(input); i++ {
		c := input[i]
		if c != '\\' || i == len(input)-1 {
			buf.WriteByte(c)
			continue
		}

		next := input[i+1]
		switch next {
		case 'a':
			buf.WriteByte(0x07)
			i++
		case 'b':
			buf.WriteByte('\b')
			i++
		case 'f':
			buf.WriteByte('\f')
			i++
		case 'n':
			buf.WriteByte('\n')
			i++
		case 'r':
			buf.WriteByte('\r')
			i++
		case 't':
			buf.WriteByte('\t')
			i++
		case 'v':
			buf.WriteByte('\v')
			i++
		case '\\', '?', '\'', '"':
			buf.WriteByte(next)
			i++
		case 'x':
			j := i + 2
			for j < len(input) && j <= i+3 && isHexChar(input[j]) {
				j++
			}
			if j == i+2 {
				// No hex digits after \x. Keep the sequence as is.
				buf.WriteByte(c)
				continue
			}
			b, _ := strconv.ParseInt(input[i+2:j], 16, 64)
			buf.WriteByte(byte(b))
			i = j - 1
		default:
			if '0' <= next && next <= '7' {
				j := i + 1
				for j < len(input) && j <= i+3 && '0' <= input[j] && input[j] <= '7' {
					j++
				}
				b, _ := strconv.ParseInt(input[i+1:j], 8, 64)
				buf.WriteByte(byte(b))
				i = j - 1
			} else {
				// Not an escape sequence. Keep the backslash as is.
				buf.WriteByte(c)
			}
		}
	}

	return buf.String()
}
