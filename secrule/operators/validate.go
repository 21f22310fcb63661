package operators

import (
	ast "secwaf/secrule/ast"
	tr "secwaf/secrule/transformations"

	"fmt"
)

// validateByteRangeOperator matches when the input contains a byte outside the allowed ranges.
type validateByteRangeOperator struct {
	allowed [256]bool
}

func (o *validateByteRangeOperator) Init(args InitArgs) error {
	if len(args.Val) != 1 {
		return fmt.Errorf("missing byte range")
	}

	t, ok := args.Val[0].(ast.ValidateByteRangeToken)
	if !ok {
		return fmt.Errorf("missing byte range")
	}

	o.allowed = t.AllowedBytes
	return nil
}

func (o *validateByteRangeOperator) Evaluate(_ EvalContext, value []byte) (bool, [][]byte, error) {
	for i := 0; i < len(value); i++ {
		if !o.allowed[value[i]] {
			return true, [][]byte{value[i : i+1]}, nil
		}
	}

	return false, nil, nil
}

// validateURLEncodingOperator matches when the input contains malformed percent-escapes.
type validateURLEncodingOperator struct{}

func (o *validateURLEncodingOperator) Init(InitArgs) error { return nil }

func (o *validateURLEncodingOperator) Evaluate(_ EvalContext, value []byte) (bool, [][]byte, error) {
	if tr.IsValidURLEncoding(string(value)) {
		return false, nil, nil
	}

	return true, [][]byte{value}, nil
}

// validateUtf8EncodingOperator matches when the input is not well-formed UTF-8.
type validateUtf8EncodingOperator struct{}

func (o *validateUtf8EncodingOperator) Init(InitArgs) error { return nil }

func (o *validateUtf8EncodingOperator) Evaluate(_ EvalContext, value []byte) (bool, [][]byte, error) {
	if tr.IsValidUtf8Encoding(string(value)) {
		return false, nil, nil
	}

	return true, [][]byte{value}, nil
}
