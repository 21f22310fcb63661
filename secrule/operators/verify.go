package operators

import (
	"fmt"
	"regexp"
)

// verifyCCOperator finds credit card number candidates with the rule's regex and
// verifies them with the Luhn checksum. The first verified candidate is the matched data.
type verifyCCOperator struct {
	rx *regexp.Regexp
}

func (o *verifyCCOperator) Init(args InitArgs) error {
	if args.Val.HasMacros() {
		return fmt.Errorf("macros are not supported in verifyCC values")
	}

	rx, err := regexp.Compile(args.Val.String())
	if err != nil {
		return fmt.Errorf("invalid verifyCC regex: %v", err)
	}

	o.rx = rx
	return nil
}

func (o *verifyCCOperator) Evaluate(_ EvalContext, value []byte) (bool, [][]byte, error) {
	for _, candidate := range o.rx.FindAll(value, -1) {
		if luhnValid(digitsOf(candidate)) {
			return true, [][]byte{candidate}, nil
		}
	}

	return false, nil, nil
}

// verifyCPFOperator verifies Brazilian CPF numbers (11 digits with two check digits).
type verifyCPFOperator struct{}

func (o *verifyCPFOperator) Init(InitArgs) error { return nil }

func (o *verifyCPFOperator) Evaluate(_ EvalContext, value []byte) (bool, [][]byte, error) {
	dd := digitsOf(value)
	if len(dd) != 11 {
		return false, nil, nil
	}

	// A CPF with all digits equal is syntactically valid but never issued.
	allSame := true
	for _, d := range dd[1:] {
		if d != dd[0] {
			allSame = false
			break
		}
	}
	if allSame {
		return false, nil, nil
	}

	if cpfCheckDigit(dd[:9]) != dd[9] || cpfCheckDigit(dd[:10]) != dd[10] {
		return false, nil, nil
	}

	return true, [][]byte{value}, nil
}

func cpfCheckDigit(dd []int) int {
	weight := len(dd) + 1
	sum := 0
	for _, d := range dd {
		sum += d * weight
		weight--
	}

	r := sum % 11
	if r < 2 {
		return 0
	}
	return 11 - r
}

// verifySSNOperator verifies US social security numbers against the issuance rules.
type verifySSNOperator struct{}

func (o *verifySSNOperator) Init(InitArgs) error { return nil }

func (o *verifySSNOperator) Evaluate(_ EvalContext, value []byte) (bool, [][]byte, error) {
	dd := digitsOf(value)
	if len(dd) != 9 {
		return false, nil, nil
	}

	area := dd[0]*100 + dd[1]*10 + dd[2]
	group := dd[3]*10 + dd[4]
	serial := dd[5]*1000 + dd[6]*100 + dd[7]*10 + dd[8]

	if area == 0 || area == 666 || area >= 900 {
		return false, nil, nil
	}
	if group == 0 || serial == 0 {
		return false, nil, nil
	}

	return true, [][]byte{value}, nil
}

// verifySVNROperator verifies Austrian social insurance numbers: ten digits NNNP DDMMYY,
// where the fourth digit is a weighted check digit over the other nine.
type verifySVNROperator struct{}

func (o *verifySVNROperator) Init(InitArgs) error { return nil }

func (o *verifySVNROperator) Evaluate(_ EvalContext, value []byte) (bool, [][]byte, error) {
	dd := digitsOf(value)
	if len(dd) != 10 {
		return false, nil, nil
	}

	weights := []int{3, 7, 9, 0, 5, 8, 4, 2, 1, 6}
	sum := 0
	for i, w := range weights {
		sum += dd[i] * w
	}

	check := sum % 11
	if check == 10 || check != dd[3] {
		return false, nil, nil
	}

	return true, [][]byte{value}, nil
}

func digitsOf(b []byte) []int {
	var dd []int
	for _, c := range b {
		if '0' <= c && c <= '9' {
			dd = append(dd, int(c-'0'))
		}
	}
	return dd
}

func luhnValid(dd []int) bool {
	if len(dd) < 13 || len(dd) > 19 {
		return false
	}

	sum := 0
	double := false
	for i := len(dd) - 1; i >= 0; i-- {
		d := dd[i]
		if double {
			d *= 2
			if d > 9 {
				d -= 9
			}
		}
		sum += d
		double = !double
	}

	return sum%10 == 0
}
