package transformations

import (
	"bytes"
	"strconv"
	"strings"
	"unicode/utf8"
)

// WeakURLUnescape attempts to URL-unescape, but if there are any values that could not be URL-unescaped,
// they will be left as is. When uni is set, IIS-style %uXXXX sequences are decoded to UTF-8 as well.
func WeakURLUnescape(s string, uni bool) string {
	if !strings.ContainsAny(s, "%+") {
		return s
	}

	var buf bytes.Buffer
	buf.Grow(len(s)) // The unescaped version should be smaller than the escaped, so this pessimistic initial size should avoid making bytes.Buffer having to reallocate.

	for i := 0; i < len(s); i++ {
		c := s[i]

		if c == '+' {
			buf.WriteByte(' ')
			continue
		}

		if c != '%' {
			buf.WriteByte(c)
			continue
		}

		// %uXXXX sequence?
		if uni && i+5 < len(s) && (s[i+1] == 'u' || s[i+1] == 'U') && isHexString(s[i+2:i+6]) {
			r, _ := strconv.ParseInt(s[i+2:i+6], 16, 64)
			r = UnicodeFullWidthToASCII(r)
			buf.WriteRune(rune(r))
			i += 5
			continue
		}

		// %XX sequence?
		if i+2 < len(s) && isHexChar(s[i+1]) && isHexChar(s[i+2]) {
			buf.WriteByte(unhex(s[i+1])<<4 | unhex(s[i+2]))
			i += 2
			continue
		}

		// This was not valid URL encoding, so we will just leave the bytes as is.
		buf.WriteByte(c)
	}

	return buf.String()
}

// IsValidURLEncoding checks whether the given string contains only valid URL-encoded escapes.
func IsValidURLEncoding(content string) bool {
	type validateURLEncodingState int
	const (
		_ validateURLEncodingState = iota
		notInEscape
		char1InEscape // This means we've have so far seen something like %
		char2InEscape // This means we've have so far seen something like %2
	)
	state := notInEscape

	for i := 0; i < len(content); i++ {
		c := content[i]
		switch state {
		case notInEscape:
			if c == '%' {
				state = char1InEscape
			}
		case char1InEscape:
			if isHexChar(c) {
				state = char2InEscape
			} else {
				return false
			}
		case char2InEscape:
			if isHexChar(c) {
				state = notInEscape
			} else {
				return false
			}
		}
	}
	if state != notInEscape {
		return false
	}

	return true
}

// IsValidUtf8Encoding checks whether the given string is made of well-formed UTF-8 sequences.
func IsValidUtf8Encoding(content string) bool {
	return utf8.ValidString(content)
}

func isHexString(s string) bool {
	for i := 0; i < len(s); i++ {
		if !isHexChar(s[i]) {
			return false
		}
	}
	return true
}

func isHexChar(c byte) bool {
	return (c >= '0' && c <= '9') || (c >= 'a' && c <= 'f') || (c >= 'A' && c <= 'F')
}

// Copied from Go's standard library net/url/url.go.
func unhex(c byte) byte {
	switch {
	case '0' <= c && c <= '9':
		return c - '0'
	case 'a' <= c && c <= 'f':
		return c - 'a' + 10
	case 'A' <= c && c <= 'F':
		return c - 'A' + 10
	}
	return 0
}
