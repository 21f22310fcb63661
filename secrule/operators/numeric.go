package operators

import (
	ast "secwaf/secrule/ast"

	"fmt"
	"strconv"
	"strings"
)

// numericOperator covers eq, ge, gt, le and lt. Both sides are parsed as integers.
// Inputs that do not parse as integers never match.
type numericOperator struct {
	kind ast.Operator
	val  ast.Value
}

func (o *numericOperator) Init(args InitArgs) error {
	o.val = args.Val
	return nil
}

func (o *numericOperator) Evaluate(ctx EvalContext, value []byte) (bool, [][]byte, error) {
	target, err := strconv.Atoi(strings.TrimSpace(string(value)))
	if err != nil {
		return false, nil, nil
	}

	expected := o.val
	if expected.HasMacros() {
		expected = ctx.ExpandMacros(expected)
	}

	expectedInt, ok := expected.Int()
	if !ok {
		expectedInt, err = strconv.Atoi(strings.TrimSpace(expected.String()))
		if err != nil {
			return false, nil, nil
		}
	}

	var matched bool
	switch o.kind {
	case ast.Eq:
		matched = target == expectedInt
	case ast.Ge:
		matched = target >= expectedInt
	case ast.Gt:
		matched = target > expectedInt
	case ast.Le:
		matched = target <= expectedInt
	case ast.Lt:
		matched = target < expectedInt
	default:
		return false, nil, fmt.Errorf("unsupported numeric operator: %v", o.kind)
	}

	if matched {
		return true, [][]byte{value}, nil
	}

	return false, nil, nil
}
