package parser

import (
	ast "secwaf/secrule/ast"

	"fmt"
	"regexp"
	"strings"
)

var targetRegex = regexp.MustCompile(`(?i)^!?&?(XML:/[^|\s,]+|\w+:/(\\.|[^/\\])+/|\w+:'(\\.|[^'\\])+'|\w+:[^|\s,]+|\w+)`)
var operatorNameRegex = regexp.MustCompile(`^@\w+`)

var operatorsMap = map[string]ast.Operator{
	"@beginswith":           ast.BeginsWith,
	"@contains":             ast.Contains,
	"@containsword":         ast.ContainsWord,
	"@detectsqli":           ast.DetectSQLi,
	"@detectxss":            ast.DetectXSS,
	"@endswith":             ast.EndsWith,
	"@eq":                   ast.Eq,
	"@ge":                   ast.Ge,
	"@geolookup":            ast.GeoLookupOp,
	"@gt":                   ast.Gt,
	"@ipmatch":              ast.IPMatch,
	"@ipmatchfromfile":      ast.IPMatchFromFile,
	"@le":                   ast.Le,
	"@lt":                   ast.Lt,
	"@nomatch":              ast.NoMatch,
	"@pm":                   ast.Pm,
	"@pmf":                  ast.Pmf,
	"@pmfromfile":           ast.PmFromFile,
	"@rbl":                  ast.Rbl,
	"@rx":                   ast.Rx,
	"@streq":                ast.Streq,
	"@strmatch":             ast.Strmatch,
	"@unconditionalmatch":   ast.UnconditionalMatch,
	"@validatebyterange":    ast.ValidateByteRange,
	"@validateurlencoding":  ast.ValidateURLEncoding,
	"@validateutf8encoding": ast.ValidateUtf8Encoding,
	"@verifycc":             ast.VerifyCC,
	"@verifycpf":            ast.VerifyCPF,
	"@verifyssn":            ast.VerifySSN,
	"@verifysvnr":           ast.VerifySVNR,
	"@within":               ast.Within,
}

// Operators whose names the grammar accepts but whose behavior this engine does not implement.
// They get a targeted diagnostic instead of silent acceptance.
var unsupportedOperators = map[string]bool{
	"@gsblookup":      true,
	"@rsub":           true,
	"@validatehash":   true,
	"@validateschema": true,
	"@validatedtd":    true,
	"@inspectfile":    true,
	"@fuzzyhash":      true,
}

// Parse a single SecRule.
func parseSecRule(s string, curRule **ast.Rule, statements *[]ast.Statement, pf PhraseLoaderCb) (err error) {
	ru := &ast.RuleItem{}

	ru.Predicate.Targets, ru.Predicate.ExceptTargets, s, err = parseTargets(s)
	if err != nil {
		return
	}

	ru.Predicate.Op, ru.Predicate.Val, ru.Predicate.Neg, s, err = parseOperator(s)
	if err != nil {
		return
	}

	switch ru.Predicate.Op {
	case ast.Pm:
		ru.PmPhrases = strings.Fields(ru.Predicate.Val.String())
	case ast.Pmf, ast.PmFromFile:
		if pf == nil {
			err = fmt.Errorf("rules contained @pmFromFile but no loader callback was given")
			return
		}

		ru.PmPhrases, err = pf(ru.Predicate.Val.String())
		if err != nil {
			return
		}
	}

	rawActions, s, err := parseRawActions(s)
	if err != nil {
		return
	}

	s, _ = nextArg(s)
	if s != "" {
		err = fmt.Errorf("unexpected arg: %s", s)
		return
	}

	var pa parsedActions
	pa, err = parseActions(rawActions)
	if err != nil {
		err = fmt.Errorf("error while parsing actions: %v", err)
		return
	}

	ru.Actions = pa.actions
	ru.Transformations = pa.transformations

	if (*curRule).ID == 0 {
		if pa.id == 0 {
			err = fmt.Errorf("missing ID")
			return
		}

		(*curRule).ID = pa.id
	} else if pa.id != 0 {
		err = fmt.Errorf("a chained rule cannot have its own ID")
		return
	}

	if pa.phase != 0 {
		if (*curRule).Phase != 0 {
			err = fmt.Errorf("rule chain has conflicting phases")
			return
		}

		(*curRule).Phase = pa.phase
	}

	(*curRule).Tags = append((*curRule).Tags, pa.tags...)
	if pa.msg != nil && (*curRule).Msg == nil {
		(*curRule).Msg = pa.msg
	}

	(*curRule).Items = append((*curRule).Items, *ru)

	if !pa.hasChainAction {
		// End of rule chain
		*statements = append(*statements, *curRule)
		*curRule = &ast.Rule{}
	}

	return
}

// Parse a single SecAction statement.
func parseSecActionStmt(s string, statements *[]ast.Statement) (err error) {
	actionStmt := &ast.ActionStmt{}

	rawActions, s, err := parseRawActions(s)
	if err != nil {
		return
	}

	s, _ = nextArg(s)
	if s != "" {
		err = fmt.Errorf("unexpected arg: %s", s)
		return
	}

	var pa parsedActions
	pa, err = parseActions(rawActions)
	if err != nil {
		return
	}

	if pa.hasChainAction {
		err = fmt.Errorf("chain is not allowed on SecAction")
		return
	}

	actionStmt.Actions = pa.actions
	actionStmt.Transformations = pa.transformations
	actionStmt.ID = pa.id
	actionStmt.Phase = pa.phase
	actionStmt.Tags = pa.tags
	actionStmt.Msg = pa.msg

	if actionStmt.ID == 0 {
		err = fmt.Errorf("missing ID")
		return
	}

	*statements = append(*statements, actionStmt)

	return
}

// Parse a single SecRuleScript statement.
func parseSecRuleScript(s string, statements *[]ast.Statement) (err error) {
	script := &ast.ScriptStmt{}

	script.Path, s = nextArg(s)
	if script.Path == "" {
		err = fmt.Errorf("missing script path")
		return
	}

	var rawActions []ast.RawAction
	rawActions, s, err = parseRawActions(s)
	if err != nil {
		return
	}

	s, _ = nextArg(s)
	if s != "" {
		err = fmt.Errorf("unexpected arg: %s", s)
		return
	}

	var pa parsedActions
	pa, err = parseActions(rawActions)
	if err != nil {
		return
	}

	script.Actions = pa.actions
	script.ID = pa.id
	script.Phase = pa.phase

	if script.ID == 0 {
		err = fmt.Errorf("missing ID")
		return
	}

	*statements = append(*statements, script)

	return
}

// Parse a single SecMarker statement.
func parseSecMarker(s string, statements *[]ast.Statement) (err error) {
	marker := &ast.Marker{}

	marker.Label, s = nextArg(s)
	if marker.Label == "" {
		err = fmt.Errorf("missing label")
		return
	}

	s, _ = nextArg(s)
	if s != "" {
		err = fmt.Errorf("unexpected arg: %s", s)
		return
	}

	*statements = append(*statements, marker)

	return
}

// Parse a SecDefaultAction statement and validate its constraints: exactly one per phase,
// a disruptive action present, and no none-transformation.
func parseSecDefaultAction(s string, rs *ParsedRuleSet) (err error) {
	rawActions, s, err := parseRawActions(s)
	if err != nil {
		return
	}

	s, _ = nextArg(s)
	if s != "" {
		err = fmt.Errorf("unexpected arg: %s", s)
		return
	}

	var pa parsedActions
	pa, err = parseActions(rawActions)
	if err != nil {
		return
	}

	if pa.id != 0 {
		return fmt.Errorf("id is not allowed in SecDefaultAction")
	}
	if pa.hasChainAction {
		return fmt.Errorf("chain is not allowed in SecDefaultAction")
	}
	if pa.hadNoneTransformation {
		return fmt.Errorf("the none-transformation is not allowed in SecDefaultAction")
	}

	phase := pa.phase
	if phase == 0 {
		phase = 2
	}

	hasDisruptive := false
	for _, a := range pa.actions {
		if ast.IsDisruptive(a) {
			hasDisruptive = true
			break
		}
	}
	if !hasDisruptive {
		return fmt.Errorf("SecDefaultAction for phase %d has no disruptive action", phase)
	}

	if _, ok := rs.DefaultActions[phase]; ok {
		return errDuplicateDefaultAction(phase)
	}

	rs.DefaultActions[phase] = &DefaultActions{
		Actions:         pa.actions,
		Transformations: pa.transformations,
	}

	return
}

// Parse a SecRule targets field (aka. variables field).
func parseTargets(s string) (targets []ast.Target, exceptTargets []ast.Target, rest string, err error) {
	s, rest = nextArg(s)

	for {
		var targetStr string
		targetStr, s = findConsume(targetRegex, s)
		if targetStr == "" {
			err = fmt.Errorf("unable to parse targets")
			return
		}

		isNegate := false
		if targetStr[0] == '!' {
			isNegate = true
			targetStr = targetStr[1:]
		}

		isCount := false
		if targetStr[0] == '&' {
			isCount = true
			targetStr = targetStr[1:]
		}

		var nameStr, selector string
		colonIdx := strings.Index(targetStr, ":")
		if colonIdx != -1 {
			nameStr = targetStr[:colonIdx]
			selector = targetStr[colonIdx+1:]
		} else {
			nameStr = targetStr
		}

		name, ok := ast.TargetNamesFromStr[strings.ToUpper(nameStr)]
		if !ok {
			err = fmt.Errorf("invalid target name: %v", nameStr)
			return
		}

		if len(selector) >= 2 && selector[0] == '\'' && selector[len(selector)-1] == '\'' {
			// Reusing nextArg to unquote and unescape
			selector, _ = nextArg(selector)
		}

		target := ast.Target{
			Name:     name,
			IsCount:  isCount,
			Selector: selector,
		}

		if name != ast.TargetXML && len(selector) >= 2 && selector[0] == '/' && selector[len(selector)-1] == '/' {
			target.IsRegexSelector = true
			target.Selector = selector[1 : len(selector)-1]

			// Ensure early that the regexp selector is valid, so we can fail with a helpful error message otherwise.
			if _, err = regexp.Compile(target.Selector); err != nil {
				err = fmt.Errorf("invalid regex target selector: %v", err)
				return
			}
		} else if strings.Contains(selector, "%{") {
			// A dynamic selector, expanded at evaluation time. Example: TX:%{RULE.id}
			target.SelectorMacro, err = parseValue(selector)
			if err != nil {
				return
			}
			target.Selector = ""
		} else {
			// Store non-regex selectors in lower case for easier case insensitive lookup.
			target.Selector = strings.ToLower(selector)
		}

		if isNegate {
			exceptTargets = append(exceptTargets, target)
		} else {
			targets = append(targets, target)
		}

		_, s = findConsume(argSpaceRegex, s)
		if len(s) == 0 {
			if len(targets) == 0 && len(exceptTargets) == 0 {
				err = fmt.Errorf("no targets")
			}
			return
		} else if s[0] == '|' || s[0] == ',' {
			// Another target will come
			s = s[1:]
			_, s = findConsume(argSpaceRegex, s)
		}
	}
}

// Parse a SecRule operator field.
func parseOperator(s string) (op ast.Operator, val ast.Value, neg bool, rest string, err error) {
	op = ast.Rx

	s, rest = nextArg(s)

	if len(s) > 0 && s[0] == '!' {
		neg = true
		s = s[1:]
	}

	ops, s := findConsume(operatorNameRegex, s)
	if ops != "" {
		opsLower := strings.ToLower(ops)

		if unsupportedOperators[opsLower] {
			err = fmt.Errorf("the %s operator is not supported by this engine", ops)
			return
		}

		if o, ok := operatorsMap[opsLower]; ok {
			op = o
		} else {
			err = fmt.Errorf("unable to parse operator")
			return
		}

		s = strings.TrimLeft(s, " ")
	}

	val, err = parseValue(s)
	if err != nil {
		return
	}

	// Special case for @validateByteRange
	if op == ast.ValidateByteRange {
		if val.HasMacros() {
			err = fmt.Errorf("macros in @validateByteRange not supported")
			return
		}

		val, err = parseValidateByteRangeVal(val.String())
		if err != nil {
			return
		}
	}

	return
}
