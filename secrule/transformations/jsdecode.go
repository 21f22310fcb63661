package transformations

import (
	"bytes"
	"fmt"
	"strconv"
	"strings"
	"unicode/utf8"
)

// Utf8ToUnicode converts all UTF-8 character sequences to Unicode using a %uHHHH syntax.
func Utf8ToUnicode(input string) (output string) {
	// Check first if there any UTF-8 sequences before we start doing memory allocations.
	// The range-operator on a string will parse UTF-8 sequences into the rune type.
	hasUtf8 := false
	expectedNewLength := 0
	for _, runeVal := range input {
		if runeVal > 127 && runeVal != utf8.RuneError {
			hasUtf8 = true
			expectedNewLength += 6 // The escaped sequences are 6 bytes and look like this: %u4f60
		} else {
			expectedNewLength++
		}
	}
	if !hasUtf8 {
		return input
	}

	// Pre-allocate a large enough buffer to avoid making bytes.Buffer having to reallocate.
	var buf bytes.Buffer
	buf.Grow(expectedNewLength)

	for i, runeVal := range input {
		if runeVal > 127 && runeVal != utf8.RuneError {
			fmt.Fprintf(&buf, "%%u%04x", runeVal)
		} else {
			buf.WriteByte(input[i])
		}
	}

	output = buf.String()

	return
}

// JsUnescape performs a Javascript unescape.
// Mostly based on https://www.ecma-international.org/ecma-262/6.0/#sec-literals-string-literals
// plus a little bit of special full-width handling for parity with the rest of the catalog.
func JsUnescape(input string) string {
	// Don't allocate memory if we know up front that there are no escape sequences in this string.
	if !strings.Contains(input, "\\") {
		return input
	}

	var buf bytes.Buffer
	buf.Grow(len(input)) // The unescaped version should be smaller than the escaped, so this pessimistic initial size should avoid making bytes.Buffer having to reallocate.

	// States for the state machine below
	const (
		_ = iota
		notInEscape
		char1InEscape                  // This means we've have so far seen something like \
		char1InHexEscape               // This means we've have so far seen something like \x
		char2InHexEscape               // This means we've have so far seen something like \xA
		char1InUnicodeHexEscape        // This means we've have so far seen something like \u
		char2InUnicodeHexEscape        // This means we've have so far seen something like \u4
		char3InUnicodeHexEscape        // This means we've have so far seen something like \u4f
		char4InUnicodeHexEscape        // This means we've have so far seen something like \u4f6
		inCurlyBracketUnicodeHexEscape // This means we've have so far seen something like \u{ followed by 0 or more bytes, tracked by escapeStartPos.
		char2InOctalEscape             // This means we've have so far seen something like \0
		char3InOctalEscape             // This means we've have so far seen something like \00
	)
	state := notInEscape
	escapeStartPos := 0

	for i := 0; i < len(input); i++ {
		c := input[i]
		switch state {

		case notInEscape:
			if c == '\\' {
				state = char1InEscape
				escapeStartPos = i
			} else {
				buf.WriteByte(c)
			}

		case char1InEscape:
			switch c {
			case '\'', '"', '\\':
				buf.WriteByte(c)
				state = notInEscape
			case 'b':
				buf.WriteByte('\b')
				state = notInEscape
			case 'f':
				buf.WriteByte('\f')
				state = notInEscape
			case 'n':
				buf.WriteByte('\n')
				state = notInEscape
			case 'r':
				buf.WriteByte('\r')
				state = notInEscape
			case 't':
				buf.WriteByte('\t')
				state = notInEscape
			case 'v':
				buf.WriteByte('\v')
				state = notInEscape
			case 'x':
				state = char1InHexEscape
			case 'u':
				state = char1InUnicodeHexEscape
			default:
				if '0' <= c && c <= '7' {
					state = char2InOctalEscape
				} else {
					buf.WriteByte(c) // Fallback to just writing the input without the \.
					state = notInEscape
				}
			}

		case char1InHexEscape:
			if isHexChar(c) {
				state = char2InHexEscape
			} else {
				buf.WriteString(input[i-1 : i+1]) // Fallback to just writing the input without the \.
				state = notInEscape
			}

		case char2InHexEscape:
			if isHexChar(c) {
				b, _ := strconv.ParseInt(input[i-1:i+1], 16, 64)
				buf.WriteByte(byte(b))
				state = notInEscape
			} else {
				buf.WriteString(input[i-2 : i+1]) // Fallback to just writing the input without the \.
				state = notInEscape
			}

		case char1InUnicodeHexEscape:
			if c == '{' {
				state = inCurlyBracketUnicodeHexEscape
			} else if isHexChar(c) {
				state = char2InUnicodeHexEscape
			} else {
				buf.WriteString(input[i-1 : i+1]) // Fallback to just writing the input without the \.
				state = notInEscape
			}

		case char2InUnicodeHexEscape:
			if isHexChar(c) {
				state = char3InUnicodeHexEscape
			} else {
				buf.WriteString(input[i-2 : i+1])
				state = notInEscape
			}

		case char3InUnicodeHexEscape:
			if isHexChar(c) {
				state = char4InUnicodeHexEscape
			} else {
				buf.WriteString(input[i-3 : i+1])
				state = notInEscape
			}

		case char4InUnicodeHexEscape:
			if isHexChar(c) {
				r, _ := strconv.ParseInt(input[i-3:i+1], 16, 64) // No err handling needed, because we know the prior four bytes were hex digits.
				r = UnicodeFullWidthToASCII(r)
				buf.WriteRune(rune(r))
				state = notInEscape
			} else {
				buf.WriteString(input[i-4 : i+1])
				state = notInEscape
			}

		case inCurlyBracketUnicodeHexEscape:
			if c == '}' {
				r, err := strconv.ParseInt(input[escapeStartPos+3:i], 16, 64)
				if r > 1114111 || err != nil {
					// Unicode is a 21-bit character set. Max code point is 1114111.
					// Fallback to just writing the input without the \.
					buf.WriteString(input[escapeStartPos+1 : i+1])
				} else {
					r = UnicodeFullWidthToASCII(r)
					buf.WriteRune(rune(r))
				}
				state = notInEscape
			} else if isHexChar(c) {
				// Stay in same state.
			} else {
				buf.WriteString(input[escapeStartPos+1 : i+1])
				state = notInEscape
			}

		case char2InOctalEscape:
			if '0' <= c && c <= '7' {
				state = char3InOctalEscape
			} else {
				// Char 2 in the octal escape sequence was not an octal digit.
				// This means the previous byte was the only one in the octal escape sequence.
				// Example of such as sequence: \1
				b, _ := strconv.ParseInt(input[i-1:i], 8, 64) // No err handling needed, because we know the byte was an octal digit.
				buf.WriteByte(byte(b))
				state = notInEscape

				// The byte we have currently arrived at was not part of the octal escape sequence, so we need to deal with it accordingly.
				if c == '\\' {
					state = char1InEscape
					escapeStartPos = i
				} else {
					buf.WriteByte(c)
				}
			}

		case char3InOctalEscape:
			if '0' <= c && c <= '7' {
				// We have arrived at the third and final possible digit of the octal escape sequence.
				// Example of such as sequence: \001
				b, _ := strconv.ParseInt(input[i-2:i+1], 8, 64) // No err handling needed, because we know the prior three bytes were octal digits.
				buf.WriteByte(byte(b))
				state = notInEscape
			} else {
				// Just the previous two bytes were in the octal escape sequence.
				// Example of such as sequence: \01
				b, _ := strconv.ParseInt(input[i-2:i], 8, 64) // No err handling needed, because we know the prior two bytes were octal digits.
				buf.WriteByte(byte(b))
				state = notInEscape

				// The byte we have currently arrived at was not part of the octal escape sequence, so we need to deal with it accordingly.
				if c == '\\' {
					state = char1InEscape
					escapeStartPos = i
				} else {
					buf.WriteByte(c)
				}
			}

		}
	}

	// Did the string end with an unfinished escape sequence?
	if state != notInEscape {
		switch state {
		case char2InOctalEscape:
			// The last char we read must have been the first and only char in the octal escape sequence.
			// Example of such as sequence: \1
			b, _ := strconv.ParseInt(input[escapeStartPos+1:], 8, 64) // No err handling needed, because we know the byte was an octal digit.
			buf.WriteByte(byte(b))
		case char3InOctalEscape:
			// The last char we read must have been the second char in the octal escape sequence.
			// Example of such as sequence: \01
			b, _ := strconv.ParseInt(input[escapeStartPos+1:], 8, 64) // No err handling needed, because we know the prior two bytes were octal digits.
			buf.WriteByte(byte(b))
		default:
			buf.WriteString(input[escapeStartPos+1:]) // Fallback to just writing the input without the \.
		}
	}

	return buf.String()
}

// UnicodeFullWidthToASCII maps full width characters (ff01 - ff5e) to the corresponding ASCII characters.
func UnicodeFullWidthToASCII(r int64) int64 {
	if r >= 0xff01 && r <= 0xff5e {
		// The first printable char in ASCII is 0x20, and corresponds to 0xFF00.
		lowestByte := r & 0xff
		r = lowestByte + 0x20
	}
	return r
}
