package transformations

import (
	ast "secwaf/secrule/ast"

	"crypto/md5"
	"crypto/sha1"
	"encoding/hex"
	"html"
	"regexp"
	"strconv"
	"strings"
)

// Explicitly writing out what the SecRule-lang considers whitespaces, as it differs a little from Go Regexp's "\s".
var whitespaceRegex = regexp.MustCompile(`[\x20\x0c\x09\x0a\x0d\x0b]+`) // ' ', \f, \t, \n, \r, \v. (0xa0 is done separately because the regex engine seems to have trouble with it.)

// Apply applies a single transformation to a string.
func Apply(s string, t ast.Transformation) string {
	switch t {
	case ast.Base64Decode:
		s = base64Unescape(s, false)
	case ast.Base64DecodeExt:
		s = base64Unescape(s, true)
	case ast.Base64Encode:
		s = base64Escape(s)
	case ast.CmdLine:
		s = cmdLine(s)
	case ast.CompressWhitespace:
		if whitespaceRegex.FindStringIndex(s) != nil || strings.Contains(s, "\xa0") {
			s = strings.Replace(s, "\xa0", " ", -1) // The regex engine seems to have trouble with 0xa0, so doing it separately.
			s = whitespaceRegex.ReplaceAllString(s, " ")
		}
	case ast.CSSDecode:
		s = CSSUnescape(s)
	case ast.EscapeSeqDecode:
		s = EscapeSeqUnescape(s)
	case ast.HexDecode:
		s = hexUnescape(s)
	case ast.HexEncode:
		s = hex.EncodeToString([]byte(s))
	case ast.HTMLEntityDecode:
		if strings.Contains(s, "&") {
			s = html.UnescapeString(s)
		}
	case ast.JsDecode:
		s = JsUnescape(s)
	case ast.Length:
		s = strconv.Itoa(len(s))
	case ast.Lowercase:
		s = strings.ToLower(s)
	case ast.MD5:
		sum := md5.Sum([]byte(s))
		s = string(sum[:])
	case ast.None:
		// Handled at pipeline assembly time. A lone t:none is the identity.
	case ast.NormalisePath:
		s = NormalizePath(s, false)
	case ast.NormalisePathWin:
		s = NormalizePath(s, true)
	case ast.RemoveComments:
		s = removeComments(s)
	case ast.RemoveCommentsChar:
		s = removeCommentsChar(s)
	case ast.RemoveNulls:
		if strings.Contains(s, "\x00") {
			s = strings.Replace(s, "\x00", "", -1)
		}
	case ast.RemoveWhitespace:
		if whitespaceRegex.FindStringIndex(s) != nil || strings.Contains(s, "\xa0") {
			s = strings.Replace(s, "\xa0", "", -1) // The regex engine seems to have trouble with 0xa0, so doing it separately.
			s = whitespaceRegex.ReplaceAllString(s, "")
		}
	case ast.ReplaceComments:
		s = replaceComments(s)
	case ast.ReplaceNulls:
		if strings.Contains(s, "\x00") {
			s = strings.Replace(s, "\x00", " ", -1)
		}
	case ast.Sha1:
		sum := sha1.Sum([]byte(s))
		s = string(sum[:])
	case ast.Trim:
		s = strings.Trim(s, " \t\n\r\v\f")
	case ast.TrimLeft:
		s = strings.TrimLeft(s, " \t\n\r\v\f")
	case ast.TrimRight:
		s = strings.TrimRight(s, " \t\n\r\v\f")
	case ast.Uppercase:
		s = strings.ToUpper(s)
	case ast.URLDecode:
		s = WeakURLUnescape(s, false)
	case ast.URLDecodeUni:
		s = WeakURLUnescape(s, true)
	case ast.URLEncode:
		s = urlEscape(s)
	case ast.Utf8toUnicode:
		s = Utf8ToUnicode(s)
	}

	return s
}

// ApplyPipeline applies a transformation pipeline to a string.
func ApplyPipeline(s string, tt []ast.Transformation) string {
	for _, t := range tt {
		s = Apply(s, t)
	}
	return s
}

// NormalizePipeline collapses a transformation list so that a none-transformation resets everything before it.
func NormalizePipeline(tt []ast.Transformation) []ast.Transformation {
	out := []ast.Transformation{}
	for _, t := range tt {
		if t == ast.None {
			out = out[:0]
			continue
		}
		out = append(out, t)
	}
	return out
}

// PipelineEquals checks whether two transformation pipelines are equal.
func PipelineEquals(a []ast.Transformation, b []ast.Transformation) bool {
	if len(a) != len(b) {
		return false
	}

	for i := 0; i < len(a); i++ {
		if a[i] != b[i] {
			return false
		}
	}

	return true
}

// cmdLine normalizes shell command lines the way attackers cannot easily evade:
// drop \ " ' ^, drop spaces before / and (, turn , and ; into spaces, compress whitespace, lowercase.
func cmdLine(s string) string {
	var sb strings.Builder
	sb.Grow(len(s))

	space := false
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch c {
		case '\\', '"', '\'', '^':
			continue
		case ',', ';':
			c = ' '
		}

		if c == ' ' || c == '\t' || c == '\n' || c == '\r' || c == '\f' || c == '\v' {
			space = true
			continue
		}

		if space {
			// Spaces before a slash or open parenthesis are dropped entirely.
			if c != '/' && c != '(' && sb.Len() > 0 {
				sb.WriteByte(' ')
			}
			space = false
		}

		if 'A' <= c && c <= 'Z' {
			c += 'a' - 'A'
		}
		sb.WriteByte(c)
	}

	return sb.String()
}

// removeComments removes each C-style comment, SQL line comment and shell comment start.
func removeComments(s string) string {
	var sb strings.Builder
	sb.Grow(len(s))

	for i := 0; i < len(s); {
		if i+1 < len(s) && s[i] == '/' && s[i+1] == '*' {
			end := strings.Index(s[i+2:], "*/")
			if end == -1 {
				break
			}
			i += 2 + end + 2
			continue
		}
		if i+1 < len(s) && s[i] == '-' && s[i+1] == '-' {
			i += 2
			continue
		}
		if s[i] == '#' {
			i++
			continue
		}
		sb.WriteByte(s[i])
		i++
	}

	return sb.String()
}

// removeCommentsChar removes the comment delimiters themselves: /*, */, -- and #.
func removeCommentsChar(s string) string {
	s = strings.Replace(s, "/*", "", -1)
	s = strings.Replace(s, "*/", "", -1)
	s = strings.Replace(s, "--", "", -1)
	s = strings.Replace(s, "#", "", -1)
	return s
}

// replaceComments replaces each complete C-style comment with a single space.
// An unterminated comment consumes the rest of the input.
func replaceComments(s string) string {
	if !strings.Contains(s, "/*") {
		return s
	}

	var sb strings.Builder
	sb.Grow(len(s))

	for i := 0; i < len(s); {
		if i+1 < len(s) && s[i] == '/' && s[i+1] == '*' {
			end := strings.Index(s[i+2:], "*/")
			sb.WriteByte(' ')
			if end == -1 {
				break
			}
			i += 2 + end + 2
			continue
		}
		sb.WriteByte(s[i])
		i++
	}

	return sb.String()
}

// hexUnescape decodes a string of hex digit pairs. Malformed input is returned as is.
func hexUnescape(s string) string {
	b, err := hex.DecodeString(s)
	if err != nil {
		return s
	}
	return string(b)
}

// urlEscape percent-encodes everything outside the unreserved set.
func urlEscape(s string) string {
	var sb strings.Builder
	sb.Grow(len(s))

	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case ('a' <= c && c <= 'z') || ('A' <= c && c <= 'Z') || ('0' <= c && c <= '9') || c == '-' || c == '_' || c == '.' || c == '~':
			sb.WriteByte(c)
		default:
			sb.WriteByte('%')
			sb.WriteByte(hexDigits[c>>4])
			sb.WriteByte(hexDigits[c&0xf])
		}
	}

	return sb.String()
}

const hexDigits = "0123456789abcdef"
