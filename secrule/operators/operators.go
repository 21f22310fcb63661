package operators

import (
	ast "secwaf/secrule/ast"
	"secwaf/waf"

	"fmt"
)

// EvalContext is the slice of the per-transaction environment that operators need.
type EvalContext interface {
	ExpandMacros(v ast.Value) ast.Value
	GeoDB() waf.GeoDB
	RBLResolver() waf.RBLResolver
	SetGeoData(data map[string]string)
}

// InitArgs is what an operator gets to compile itself once at engine build time.
type InitArgs struct {
	Val ast.Value

	// Phrases is the already loaded phrase list for the pm-operators, when the parser resolved it.
	Phrases []string

	// FileLoader reads the lines of a data file for the fromFile-operators.
	FileLoader func(path string) ([]string, error)

	// RxMatchLimit caps the input length the rx-operator will scan.
	RxMatchLimit int
}

// Operator is a compiled decision predicate over a transformed value.
type Operator interface {
	Init(args InitArgs) error
	Evaluate(ctx EvalContext, value []byte) (matched bool, captures [][]byte, err error)
}

// New creates the uninitialized operator for an operator name from the AST.
func New(op ast.Operator) (Operator, error) {
	switch op {
	case ast.Rx:
		return &rxOperator{}, nil
	case ast.Pm, ast.Pmf, ast.PmFromFile:
		return &pmOperator{fromFile: op == ast.Pmf || op == ast.PmFromFile}, nil
	case ast.BeginsWith:
		return &stringOperator{kind: ast.BeginsWith}, nil
	case ast.EndsWith:
		return &stringOperator{kind: ast.EndsWith}, nil
	case ast.Contains:
		return &stringOperator{kind: ast.Contains}, nil
	case ast.ContainsWord:
		return &stringOperator{kind: ast.ContainsWord}, nil
	case ast.Streq:
		return &stringOperator{kind: ast.Streq}, nil
	case ast.Strmatch:
		return &stringOperator{kind: ast.Strmatch}, nil
	case ast.Within:
		return &stringOperator{kind: ast.Within}, nil
	case ast.Eq, ast.Ge, ast.Gt, ast.Le, ast.Lt:
		return &numericOperator{kind: op}, nil
	case ast.IPMatch, ast.IPMatchFromFile:
		return &ipMatchOperator{fromFile: op == ast.IPMatchFromFile}, nil
	case ast.DetectSQLi:
		return &detectSQLiOperator{}, nil
	case ast.DetectXSS:
		return &detectXSSOperator{}, nil
	case ast.ValidateByteRange:
		return &validateByteRangeOperator{}, nil
	case ast.ValidateURLEncoding:
		return &validateURLEncodingOperator{}, nil
	case ast.ValidateUtf8Encoding:
		return &validateUtf8EncodingOperator{}, nil
	case ast.GeoLookupOp:
		return &geoLookupOperator{}, nil
	case ast.Rbl:
		return &rblOperator{}, nil
	case ast.VerifyCC:
		return &verifyCCOperator{}, nil
	case ast.VerifyCPF:
		return &verifyCPFOperator{}, nil
	case ast.VerifySSN:
		return &verifySSNOperator{}, nil
	case ast.VerifySVNR:
		return &verifySVNROperator{}, nil
	case ast.UnconditionalMatch:
		return &unconditionalMatchOperator{}, nil
	case ast.NoMatch:
		return &noMatchOperator{}, nil
	}

	return nil, fmt.Errorf("unsupported operator: %v", op)
}

type unconditionalMatchOperator struct{}

func (o *unconditionalMatchOperator) Init(InitArgs) error { return nil }

func (o *unconditionalMatchOperator) Evaluate(_ EvalContext, value []byte) (bool, [][]byte, error) {
	return true, [][]byte{value}, nil
}

type noMatchOperator struct{}

func (o *noMatchOperator) Init(InitArgs) error { return nil }

func (o *noMatchOperator) Evaluate(EvalContext, []byte) (bool, [][]byte, error) {
	return false, nil, nil
}
