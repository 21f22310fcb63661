package transformations

import (
	"strings"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

func TestNormalizePath(t *testing.T) {
	// Arrange
	type testcase struct {
		input    string
		win      bool
		expected string
	}
	tests := []testcase{
		{``, false, ``},
		{`/`, false, `/`},
		{`/a/b/c`, false, `/a/b/c`},
		{`/a/b/../c`, false, `/a/c`},
		{`/a/./b`, false, `/a/b`},
		{`//a///b`, false, `/a/b`},
		{`/../a`, false, `/a`},
		{`/..`, false, `/`},
		{`/a/b/..`, false, `/a`},
		{`.`, false, ``},
		{`./a`, false, `a`},
		{`a/.`, false, `a`},
		{`a/../b`, false, `b`},
		{`a/../../b`, false, `../b`},
		{`..`, false, `..`},
		{`../../a`, false, `../../a`},
		{`/a/b/`, false, `/a/b/`},
		{`/a//b//`, false, `/a/b/`},
		{`/ADMIN/../admin`, false, `/admin`},
		{`a\b\..\c`, false, `a\b\..\c`},
		{`a\b\..\c`, true, `a/c`},
		{`C:\x\..\y`, true, `C:/y`},
		{`\\x\y`, true, `/x/y`},
	}

	for _, test := range tests {
		// Act
		r := NormalizePath(test.input, test.win)

		// Assert
		if r != test.expected {
			t.Errorf("NormalizePath(%q, win=%v): got %q, expected %q", test.input, test.win, r, test.expected)
		}

		if len(r) > len(test.input) {
			t.Errorf("NormalizePath(%q, win=%v): output longer than input", test.input, test.win)
		}
	}
}

func TestNormalizePathIdempotent(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	segmentGen := gen.OneConstOf("a", "bb", ".", "..", "")

	properties.Property("normalizing twice equals normalizing once", prop.ForAll(
		func(segments []string, leading bool, trailing bool) bool {
			p := strings.Join(segments, "/")
			if leading {
				p = "/" + p
			}
			if trailing {
				p = p + "/"
			}

			once := NormalizePath(p, false)
			twice := NormalizePath(once, false)
			return once == twice
		},
		gen.SliceOf(segmentGen),
		gen.Bool(),
		gen.Bool(),
	))

	properties.TestingRun(t)
}

func TestURLUnescapeRoundTrip(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("unescape of escape is the identity", prop.ForAll(
		func(bb []byte) bool {
			return WeakURLUnescape(urlEscape(string(bb)), false) == string(bb)
		},
		gen.SliceOf(gen.UInt8()),
	))

	properties.Property("strings without escapes are untouched", prop.ForAll(
		func(s string) bool {
			if strings.ContainsAny(s, "%+") {
				return true
			}
			return WeakURLUnescape(s, false) == s
		},
		gen.AnyString(),
	))

	properties.TestingRun(t)
}
