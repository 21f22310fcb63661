package transformations

import (
	. "secwaf/secrule/ast"

	"fmt"
	"strings"
	"testing"
)

func TestTransformations(t *testing.T) {
	// Arrange
	type testcase struct {
		inputVal             string
		inputTransformations []Transformation
		expected             string
	}
	tests := []testcase{
		{`hello%20world`, []Transformation{}, `hello%20world`},

		{`AAAAAAABCCC`, []Transformation{Lowercase}, `aaaaaaabccc`},
		{`aaAbC`, []Transformation{Uppercase}, `AAABC`},

		{`hello%20world`, []Transformation{URLDecodeUni}, `hello world`},
		{`hello+world`, []Transformation{URLDecodeUni}, `hello world`},
		{`hello%ggworld`, []Transformation{URLDecodeUni}, `hello%ggworld`},
		{`hello%20`, []Transformation{URLDecodeUni}, `hello `},
		{`hello%2`, []Transformation{URLDecodeUni}, `hello%2`},
		{`hello%`, []Transformation{URLDecodeUni}, `hello%`},
		{`%20`, []Transformation{URLDecodeUni}, ` `},
		{`%2`, []Transformation{URLDecodeUni}, `%2`},
		{`%`, []Transformation{URLDecodeUni}, `%`},
		{``, []Transformation{URLDecodeUni}, ``},
		{`%00`, []Transformation{URLDecodeUni}, "\x00"},
		{`x%6ax`, []Transformation{URLDecodeUni}, `xjx`},
		{`x%6Ax`, []Transformation{URLDecodeUni}, `xjx`},
		{`x%u4f60x`, []Transformation{URLDecodeUni}, "x\u4f60x"},
		{`x%uff41x`, []Transformation{URLDecodeUni}, "xax"}, // Full-width a becomes ASCII a
		{`x%u4f60x`, []Transformation{URLDecode}, `x%u4f60x`},
		{`hello%2fworld`, []Transformation{URLDecode}, `hello/world`},

		{`hello world`, []Transformation{RemoveWhitespace}, `helloworld`},
		{` hello world `, []Transformation{RemoveWhitespace}, `helloworld`},
		{"hello\tworld", []Transformation{RemoveWhitespace}, `helloworld`},
		{"hello\nworld", []Transformation{RemoveWhitespace}, `helloworld`},
		{"hello \xa0 world", []Transformation{RemoveWhitespace}, `helloworld`},
		{"hello \t\n\r world", []Transformation{CompressWhitespace}, `hello world`},

		{`hello &lt;i&gt;world&lt;/i&gt;`, []Transformation{HTMLEntityDecode}, `hello <i>world</i>`},

		{"hello world", []Transformation{Utf8toUnicode}, "hello world"},
		{"hello \xe4\xbd\xa0 world", []Transformation{Utf8toUnicode}, "hello %u4f60 world"},
		{"hello \xff\xbd\xa0 world", []Transformation{Utf8toUnicode}, "hello \xff\xbd\xa0 world"}, // Invalid UTF-8 sequences should remain untouched

		{`hello \' world`, []Transformation{JsDecode}, `hello ' world`},
		{`hello \u4f60 world`, []Transformation{JsDecode}, "hello \u4f60 world"},
		{`hello \x4D world`, []Transformation{JsDecode}, "hello M world"},
		{`hello \251 world`, []Transformation{JsDecode}, "hello \xa9 world"},

		{``, []Transformation{Length}, `0`},
		{`abc`, []Transformation{Length}, `3`},
		{`hello world`, []Transformation{Length}, `11`},

		{"a\x00b", []Transformation{RemoveNulls}, "ab"},
		{"a\x00b", []Transformation{ReplaceNulls}, "a b"},

		{"  abc \t", []Transformation{Trim}, "abc"},
		{"  abc ", []Transformation{TrimLeft}, "abc "},
		{"  abc ", []Transformation{TrimRight}, "  abc"},

		{`aGVsbG8=`, []Transformation{Base64Decode}, `hello`},
		{`aGVsbG8`, []Transformation{Base64Decode}, `hello`},
		{`aGVsb!G8=`, []Transformation{Base64Decode}, `hel`},      // Strict decoding stops at the first invalid byte
		{`aGVsb!G8=`, []Transformation{Base64DecodeExt}, `hello`}, // Permissive decoding skips invalid bytes
		{`hello`, []Transformation{Base64Encode}, `aGVsbG8=`},

		{`48656c6c6f`, []Transformation{HexDecode}, `Hello`},
		{`Hello`, []Transformation{HexEncode}, `48656c6c6f`},
		{"A B", []Transformation{URLEncode}, `A%20B`},
		{"a/b", []Transformation{URLEncode}, `a%2fb`},

		{`SELECT/*foo*/1`, []Transformation{ReplaceComments}, `SELECT 1`},
		{`SELECT/*foo`, []Transformation{ReplaceComments}, `SELECT `},
		{`SELECT/*foo*/1#bar`, []Transformation{RemoveComments}, `SELECT1bar`},
		{`a/*b*/c--d#e`, []Transformation{RemoveCommentsChar}, `abcde`},

		{`C:\ dir\ x`, []Transformation{CmdLine}, `c: dir x`},
		{`DEL ,, ;; x`, []Transformation{CmdLine}, `del x`},
		{`a "b" 'c' ^d`, []Transformation{CmdLine}, `a b c d`},
		{`foo /bar`, []Transformation{CmdLine}, `foo/bar`},
		{`foo (bar`, []Transformation{CmdLine}, `foo(bar`},

		{`\41\42 \43`, []Transformation{CSSDecode}, `ABC`}, // The whitespace terminator after an escape is consumed
		{`\ff41`, []Transformation{CSSDecode}, `a`},        // Full-width a becomes ASCII a
		{`a\"b`, []Transformation{CSSDecode}, `a"b`},
		{`a\`, []Transformation{CSSDecode}, `a`},

		{`a\nb`, []Transformation{EscapeSeqDecode}, "a\nb"},
		{`a\x41b`, []Transformation{EscapeSeqDecode}, "aAb"},
		{`a\101b`, []Transformation{EscapeSeqDecode}, "aAb"},
		{`a\qb`, []Transformation{EscapeSeqDecode}, `a\qb`},

		{`hello%20WORLD`, []Transformation{URLDecode, Lowercase}, `hello world`},
	}

	var b strings.Builder
	for i, test := range tests {
		// Act
		s := ApplyPipeline(test.inputVal, test.inputTransformations)

		// Assert
		if s != test.expected {
			fmt.Fprintf(&b, "Got unexpected result on item %v: %q, expected: %q\n", i, s, test.expected)
		}
	}

	if b.Len() > 0 {
		t.Fatalf("\n%s", b.String())
	}
}

func TestNormalizePipeline(t *testing.T) {
	// Arrange
	type testcase struct {
		input    []Transformation
		expected []Transformation
	}
	tests := []testcase{
		{[]Transformation{}, []Transformation{}},
		{[]Transformation{Lowercase}, []Transformation{Lowercase}},
		{[]Transformation{Lowercase, None}, []Transformation{}},
		{[]Transformation{Lowercase, None, URLDecode}, []Transformation{URLDecode}},
		{[]Transformation{None, Lowercase, None, URLDecode, Trim}, []Transformation{URLDecode, Trim}},
	}

	for i, test := range tests {
		// Act
		r := NormalizePipeline(test.input)

		// Assert
		if !PipelineEquals(r, test.expected) {
			t.Errorf("item %v: got %v, expected %v", i, r, test.expected)
		}
	}
}
