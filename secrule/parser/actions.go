package parser

import (
	ast "secwaf/secrule/ast"

	"fmt"
	"regexp"
	"strconv"
	"strings"
)

var actionRegex = regexp.MustCompile(`^(\w+:('(\\.|[^'\\])+'|[^,]+))|\w+`)
var variableMacroRegex = regexp.MustCompile(`%{(?P<variable>[^}]+)}`)
var setVarParameterRegex = regexp.MustCompile(`!?(?P<variable>[^=]+)(?P<operator>=[+-]?)?(?P<value>.+)?`)
var ctlParameterRegex = regexp.MustCompile(`(?P<setting>[^=]+)=(?P<value>.+)`)

var ctlActionSettingsMap = map[string]ast.CtlActionSetting{
	"auditengine":              ast.CtlAuditEngine,
	"auditlogparts":            ast.CtlAuditLogParts,
	"forcerequestbodyvariable": ast.CtlForceRequestBodyVariable,
	"requestbodyaccess":        ast.CtlRequestBodyAccess,
	"requestbodyprocessor":     ast.CtlRequestBodyProcessor,
	"ruleengine":               ast.CtlRuleEngine,
	"ruleremovebyid":           ast.CtlRuleRemoveByID,
	"ruleremovebytag":          ast.CtlRuleRemoveByTag,
	"ruleremovetargetbyid":     ast.CtlRuleRemoveTargetByID,
	"ruleremovetargetbytag":    ast.CtlRuleRemoveTargetByTag,
}

// parsedActions is everything the actions-block of a statement yields.
type parsedActions struct {
	actions               []ast.Action
	id                    int
	phase                 int
	transformations       []ast.Transformation
	hasChainAction        bool
	hadNoneTransformation bool
	tags                  []string
	msg                   ast.Value
}

// Parse a raw SecRule actions arg into RawAction key-value pairs.
func parseRawActions(s string) (actions []ast.RawAction, rest string, err error) {
	s, rest = nextArg(s)
	s = strings.Trim(s, " \t\r\n")

	// Empty action set is OK. For example last rule item in a rule chain might be like this.
	if s == "" {
		return
	}

	for {
		var a string
		a, s = findConsume(actionRegex, s)
		if a == "" {
			err = fmt.Errorf("unable to parse actions")
			return
		}

		var k, v string
		k, v = parseActionKeyValue(a)
		k = strings.ToLower(k)
		actions = append(actions, ast.RawAction{Key: k, Val: v})

		// Consume whitespace
		_, s = findConsume(argSpaceRegex, s)
		if len(s) == 0 {
			return
		} else if s[0] == ',' {
			// Another action will come
			s = s[1:]
			_, s = findConsume(argSpaceRegex, s)
		}
	}
}

func parseActions(rawActions []ast.RawAction) (pa parsedActions, err error) {
	for _, a := range rawActions {
		switch a.Key {

		case "id":
			pa.id, err = strconv.Atoi(a.Val)
			if err != nil {
				err = fmt.Errorf("invalid id: %s", a.Val)
				return
			}

		case "phase":
			pa.phase, err = parsePhase(a.Val)
			if err != nil {
				return
			}

		case "chain":
			pa.hasChainAction = true

		case "allow":
			pa.actions = append(pa.actions, &ast.AllowAction{})

		case "block":
			pa.actions = append(pa.actions, &ast.BlockAction{})

		case "deny":
			pa.actions = append(pa.actions, &ast.DenyAction{})

		case "drop":
			pa.actions = append(pa.actions, &ast.DropAction{})

		case "pass":
			pa.actions = append(pa.actions, &ast.PassAction{})

		case "redirect":
			var v ast.Value
			if v, err = parseValue(a.Val); err != nil {
				return
			}
			pa.actions = append(pa.actions, &ast.RedirectAction{URL: v})

		case "proxy":
			var v ast.Value
			if v, err = parseValue(a.Val); err != nil {
				return
			}
			pa.actions = append(pa.actions, &ast.ProxyAction{URL: v})

		case "status":
			var code int
			if code, err = strconv.Atoi(a.Val); err != nil || code < 100 || code > 599 {
				err = fmt.Errorf("invalid status: %s", a.Val)
				return
			}
			pa.actions = append(pa.actions, &ast.StatusAction{Code: code})

		case "pause":
			err = fmt.Errorf("the pause action is not supported by this engine")
			return

		case "msg":
			var v ast.Value
			if v, err = parseValue(a.Val); err != nil {
				return
			}
			pa.msg = v
			pa.actions = append(pa.actions, &ast.MsgAction{Msg: v})

		case "logdata":
			var v ast.Value
			if v, err = parseValue(a.Val); err != nil {
				return
			}
			pa.actions = append(pa.actions, &ast.LogDataAction{LogData: v})

		case "tag":
			var v ast.Value
			if v, err = parseValue(a.Val); err != nil {
				return
			}
			pa.tags = append(pa.tags, v.String())
			pa.actions = append(pa.actions, &ast.TagAction{Tag: v})

		case "rev":
			pa.actions = append(pa.actions, &ast.RevAction{Rev: a.Val})

		case "ver":
			pa.actions = append(pa.actions, &ast.VerAction{Ver: a.Val})

		case "severity":
			var severity int
			if severity, err = parseSeverity(a.Val); err != nil {
				return
			}
			pa.actions = append(pa.actions, &ast.SeverityAction{Severity: severity})

		case "accuracy":
			var n int
			if n, err = strconv.Atoi(a.Val); err != nil || n < 1 || n > 9 {
				err = fmt.Errorf("invalid accuracy: %s", a.Val)
				return
			}
			pa.actions = append(pa.actions, &ast.AccuracyAction{Accuracy: n})

		case "maturity":
			var n int
			if n, err = strconv.Atoi(a.Val); err != nil || n < 1 || n > 9 {
				err = fmt.Errorf("invalid maturity: %s", a.Val)
				return
			}
			pa.actions = append(pa.actions, &ast.MaturityAction{Maturity: n})

		case "t":
			if t, ok := ast.TransformationsFromStr[strings.ToLower(a.Val)]; ok {
				if t == ast.None {
					pa.hadNoneTransformation = true
				}
				pa.transformations = append(pa.transformations, t)
			} else {
				err = fmt.Errorf("unknown transformation: %s", a.Val)
				return
			}

		case "setvar":
			var sv ast.SetVarAction
			if sv, err = parseSetVarAction(a.Val); err != nil {
				return
			}
			pa.actions = append(pa.actions, &sv)

		case "setenv":
			var sv ast.SetVarAction
			if sv, err = parseSetVarAction(a.Val); err != nil {
				return
			}
			pa.actions = append(pa.actions, &ast.SetEnvAction{Name: sv.Variable, Value: sv.Value})

		case "initcol":
			var col, key string
			if pos := strings.Index(a.Val, "="); pos != -1 {
				col, key = strings.ToLower(a.Val[:pos]), a.Val[pos+1:]
			}
			if col == "" || key == "" {
				err = fmt.Errorf("invalid initcol parameter: %s", a.Val)
				return
			}

			var v ast.Value
			if v, err = parseValue(key); err != nil {
				return
			}
			pa.actions = append(pa.actions, &ast.InitColAction{Collection: col, Key: v})

		case "expirevar":
			var variable, ttl string
			if pos := strings.Index(a.Val, "="); pos != -1 {
				variable, ttl = a.Val[:pos], a.Val[pos+1:]
			} else {
				variable, ttl = a.Val, "0"
			}

			var v ast.Value
			if v, err = parseValue(variable); err != nil {
				return
			}

			var seconds int
			if seconds, err = strconv.Atoi(ttl); err != nil {
				err = fmt.Errorf("invalid expirevar TTL: %s", ttl)
				return
			}
			pa.actions = append(pa.actions, &ast.ExpireVarAction{Variable: v, TTLSeconds: seconds})

		case "setuid":
			var v ast.Value
			if v, err = parseValue(a.Val); err != nil {
				return
			}
			pa.actions = append(pa.actions, &ast.SetUIDAction{UID: v})

		case "setsid":
			var v ast.Value
			if v, err = parseValue(a.Val); err != nil {
				return
			}
			pa.actions = append(pa.actions, &ast.SetSIDAction{SID: v})

		case "exec":
			pa.actions = append(pa.actions, &ast.ExecAction{Path: a.Val})

		case "xmlns":
			var prefix, uri string
			if pos := strings.Index(a.Val, "="); pos != -1 {
				prefix, uri = a.Val[:pos], strings.Trim(a.Val[pos+1:], `"`)
			}
			if prefix == "" || uri == "" {
				err = fmt.Errorf("invalid xmlns parameter: %s", a.Val)
				return
			}
			pa.actions = append(pa.actions, &ast.XMLNSAction{Prefix: prefix, URI: uri})

		case "nolog":
			pa.actions = append(pa.actions, &ast.NoLogAction{})

		case "log":
			pa.actions = append(pa.actions, &ast.LogAction{})

		case "auditlog":
			pa.actions = append(pa.actions, &ast.AuditLogAction{})

		case "noauditlog":
			pa.actions = append(pa.actions, &ast.NoAuditLogAction{})

		case "capture":
			pa.actions = append(pa.actions, &ast.CaptureAction{})

		case "multimatch":
			pa.actions = append(pa.actions, &ast.MultiMatchAction{})

		case "skip":
			var n int
			if n, err = strconv.Atoi(a.Val); err != nil || n < 1 {
				err = fmt.Errorf("invalid skip count: %s", a.Val)
				return
			}
			pa.actions = append(pa.actions, &ast.SkipAction{Count: n})

		case "skipafter":
			pa.actions = append(pa.actions, &ast.SkipAfterAction{Label: a.Val})

		case "ctl":
			var ctl ast.CtlAction
			if ctl, err = parseCtlAction(a.Val); err != nil {
				return
			}
			pa.actions = append(pa.actions, &ctl)

		default:
			err = fmt.Errorf("unknown action: %s", a.Key)
			return
		}
	}

	return
}

func parseSetVarAction(parameter string) (sv ast.SetVarAction, err error) {
	result := findStringSubmatchMap(setVarParameterRegex, parameter)
	if result == nil {
		err = fmt.Errorf("unsupported parameter %s for setvar operation", parameter)
		return
	}

	if parameter[0] == '!' {
		result["operator"] = "!"
	}

	// Default values
	if result["operator"] == "" {
		result["operator"] = "="
	}

	if result["value"] == "" {
		result["value"] = "1"
	}

	op, err := toSetvarOperator(result["operator"])
	if err != nil {
		return
	}

	var variable ast.Value
	variable, err = parseValue(result["variable"])
	if err != nil {
		return
	}

	var value ast.Value
	value, err = parseValue(result["value"])
	if err != nil {
		return
	}

	sv = ast.SetVarAction{
		Variable: variable,
		Operator: op,
		Value:    value,
	}

	return
}

func parseCtlAction(parameter string) (ctl ast.CtlAction, err error) {
	result := findStringSubmatchMap(ctlParameterRegex, parameter)
	if result == nil {
		err = fmt.Errorf("unsupported parameter %s for ctl operation", parameter)
		return
	}

	setting, ok := ctlActionSettingsMap[strings.ToLower(result["setting"])]
	if !ok {
		err = fmt.Errorf("unsupported setting %s for ctl operation", result["setting"])
		return
	}

	var value ast.Value
	value, err = parseValue(result["value"])
	if err != nil {
		return
	}

	ctl = ast.CtlAction{
		Setting: setting,
		Value:   value,
	}

	return
}

func findStringSubmatchMap(r *regexp.Regexp, str string) map[string]string {
	match := r.FindStringSubmatch(str)
	if match == nil {
		return nil
	}

	submatchMap := make(map[string]string)
	for i, name := range r.SubexpNames() {
		if i != 0 {
			submatchMap[name] = match[i]
		}
	}

	return submatchMap
}

func parsePhase(s string) (phase int, err error) {
	switch s {
	case "1":
		phase = 1
	case "2", "request":
		phase = 2
	case "3":
		phase = 3
	case "4", "response":
		phase = 4
	case "5", "logging":
		phase = 5
	default:
		err = fmt.Errorf("unknown phase: %s", s)
	}

	return
}

func parseSeverity(s string) (severity int, err error) {
	if n, atoiErr := strconv.Atoi(s); atoiErr == nil {
		if n < 0 || n > 7 {
			return 0, fmt.Errorf("invalid severity: %s", s)
		}
		return n, nil
	}

	s = strings.Trim(s, `'"`)
	if n, ok := ast.SeveritiesFromStr[strings.ToLower(s)]; ok {
		return n, nil
	}

	return 0, fmt.Errorf("invalid severity: %s", s)
}

// Parse a SecRule action key-value pair.
func parseActionKeyValue(s string) (key string, val string) {
	pos := strings.Index(s, ":")
	if pos == -1 {
		key = s
		return
	}

	key = s[:pos]

	valStart := pos + 1
	valEnd := len(s) - 1
	if s[valStart] == '\'' {
		valStart++
		valEnd--
	}
	val = s[valStart : valEnd+1]

	return
}

// A "value" is a string with macros, or sometimes just an integer value. It is used for logging and comparisons.
// Example: "Matched Data: %{TX.0} found within %{MATCHED_VAR_NAME}: %{MATCHED_VAR}".
func parseValue(s string) (e ast.Value, err error) {
	// Append macro-tokens and possibly the string tokens between them.
	var pos int
	for _, match := range variableMacroRegex.FindAllStringSubmatchIndex(s, -1) {
		// If there was a string in between previous macro and this macro, append it as a StringToken.
		if pos != match[0] {
			e = append(e, ast.StringToken(s[pos:match[0]]))
		}

		// Parse the macro token.
		m := s[match[0]+2 : match[1]-1] // Get rid of "%{" and "}"
		var name, selector string
		if dotIdx := strings.Index(m, "."); dotIdx != -1 {
			name = m[:dotIdx]
			selector = m[dotIdx+1:]
		} else {
			name = m
		}

		t, ok := ast.TargetNamesFromStr[strings.ToUpper(name)]
		if !ok {
			err = fmt.Errorf("unsupported macro %s", m)
			return
		}

		e = append(e, ast.MacroToken{Name: t, Selector: strings.ToLower(selector)})

		pos = match[1]
	}

	// If there were macros, append the remainder as a string literal.
	if len(e) > 0 {
		if pos != len(s) {
			e = append(e, ast.StringToken(s[pos:]))
		}
		return
	}

	// There were no macros. Try if the value is just an int token.
	n, erratoi := strconv.Atoi(s)
	if erratoi == nil {
		e = append(e, ast.IntToken(n))
		return
	}

	// The value is a string literal.
	e = append(e, ast.StringToken(s))

	return
}

// Special for @validateByteRange is that the val will be stored as a Value{ValidateByteRangeToken{...}}.
func parseValidateByteRangeVal(s string) (val ast.Value, err error) {
	parts := strings.Split(s, ",")
	var t ast.ValidateByteRangeToken
	for _, part := range parts {
		r := strings.Split(strings.TrimSpace(part), "-")
		n := len(r)

		if n != 1 && n != 2 {
			err = fmt.Errorf("invalid @validateByteRange format")
			return
		}

		var from int
		from, err = strconv.Atoi(r[0])
		if err != nil || from < 0 || from > 255 {
			err = fmt.Errorf("failed to parse number in @validateByteRange: %v", err)
			return
		}

		if n == 1 {
			t.AllowedBytes[from] = true
		} else {
			var to int
			to, err = strconv.Atoi(r[1])
			if err != nil || to > 255 {
				err = fmt.Errorf("failed to parse number in @validateByteRange: %v", err)
				return
			}

			if from >= to {
				err = fmt.Errorf("invalid range in @validateByteRange")
				return
			}

			for i := from; i <= to; i++ {
				t.AllowedBytes[i] = true
			}
		}
	}

	val = ast.Value{t}
	return
}

func toSetvarOperator(opStr string) (ast.SetVarActionOperator, error) {
	switch opStr {
	case "=":
		return ast.Set, nil
	case "=+":
		return ast.Increment, nil
	case "=-":
		return ast.Decrement, nil
	case "!":
		return ast.DeleteVar, nil
	}

	return 0, fmt.Errorf("unsupported operator %s", opStr)
}
