package operators

import (
	ast "secwaf/secrule/ast"

	"bytes"
	"fmt"
)

// stringOperator covers the simple byte-string predicates: beginsWith, endsWith, contains,
// containsWord, streq, strmatch and within. The right side is macro-expanded per evaluation.
type stringOperator struct {
	kind ast.Operator
	val  ast.Value
}

func (o *stringOperator) Init(args InitArgs) error {
	o.val = args.Val
	return nil
}

func (o *stringOperator) Evaluate(ctx EvalContext, value []byte) (bool, [][]byte, error) {
	expected := o.val
	if expected.HasMacros() {
		expected = ctx.ExpandMacros(expected)
	}
	eb := expected.Bytes()

	var matched bool
	switch o.kind {
	case ast.BeginsWith:
		matched = bytes.HasPrefix(value, eb)
	case ast.EndsWith:
		matched = bytes.HasSuffix(value, eb)
	case ast.Contains, ast.Strmatch:
		matched = bytes.Contains(value, eb)
	case ast.ContainsWord:
		matched = containsWord(value, eb)
	case ast.Streq:
		matched = bytes.Equal(value, eb)
	case ast.Within:
		// The whole input must appear within the parameter.
		matched = len(value) > 0 && bytes.Contains(eb, value)
	default:
		return false, nil, fmt.Errorf("unsupported string operator: %v", o.kind)
	}

	if matched {
		return true, [][]byte{eb}, nil
	}

	return false, nil, nil
}

// containsWord reports whether word occurs in s delimited by non-word characters or the input edges.
func containsWord(s []byte, word []byte) bool {
	if len(word) == 0 {
		return false
	}

	for pos := 0; ; {
		i := bytes.Index(s[pos:], word)
		if i == -1 {
			return false
		}
		i += pos

		beforeOK := i == 0 || !isWordChar(s[i-1])
		afterOK := i+len(word) == len(s) || !isWordChar(s[i+len(word)])
		if beforeOK && afterOK {
			return true
		}

		pos = i + 1
	}
}

func isWordChar(c byte) bool {
	return ('a' <= c && c <= 'z') || ('A' <= c && c <= 'Z') || ('0' <= c && c <= '9') || c == '_'
}
