package operators

import (
	ast "secwaf/secrule/ast"

	"fmt"
	"regexp"
)

// rxOperator evaluates a regular expression against the input.
// The expression is compiled once at engine build time, unless the right side contains macros,
// in which case it must be recompiled against the expanded value on every evaluation.
type rxOperator struct {
	val        ast.Value
	rx         *regexp.Regexp
	matchLimit int
}

func (o *rxOperator) Init(args InitArgs) error {
	o.val = args.Val
	o.matchLimit = args.RxMatchLimit

	if o.val.HasMacros() {
		return nil
	}

	rx, err := regexp.Compile(o.val.String())
	if err != nil {
		return fmt.Errorf("invalid regex %q: %v", o.val.String(), err)
	}

	o.rx = rx
	return nil
}

func (o *rxOperator) Evaluate(ctx EvalContext, value []byte) (matched bool, captures [][]byte, err error) {
	if o.matchLimit > 0 && len(value) > o.matchLimit {
		return false, nil, fmt.Errorf("input length %d exceeded the regex match limit %d", len(value), o.matchLimit)
	}

	rx := o.rx
	if rx == nil {
		expanded := ctx.ExpandMacros(o.val).String()
		rx, err = regexp.Compile(expanded)
		if err != nil {
			return false, nil, fmt.Errorf("invalid expanded regex %q: %v", expanded, err)
		}
	}

	captureGroups := rx.FindSubmatch(value)
	if captureGroups == nil {
		return false, nil, nil
	}

	return true, captureGroups, nil
}
