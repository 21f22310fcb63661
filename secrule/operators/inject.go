package operators

import (
	libinjection "github.com/corazawaf/libinjection-go"
)

// detectSQLiOperator evaluates input for SQL injection. The fingerprint becomes the matched data.
type detectSQLiOperator struct{}

func (o *detectSQLiOperator) Init(InitArgs) error { return nil }

func (o *detectSQLiOperator) Evaluate(_ EvalContext, value []byte) (bool, [][]byte, error) {
	found, fingerprint := libinjection.IsSQLi(string(value))
	if !found {
		return false, nil, nil
	}

	return true, [][]byte{[]byte(fingerprint)}, nil
}

// detectXSSOperator evaluates input for cross-site scripting payloads.
type detectXSSOperator struct{}

func (o *detectXSSOperator) Init(InitArgs) error { return nil }

func (o *detectXSSOperator) Evaluate(_ EvalContext, value []byte) (bool, [][]byte, error) {
	if !libinjection.IsXSS(string(value)) {
		return false, nil, nil
	}

	return true, [][]byte{value}, nil
}
