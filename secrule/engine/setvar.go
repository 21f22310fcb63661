package engine

import (
	ast "secwaf/secrule/ast"
	"secwaf/waf"

	"fmt"
	"strconv"
	"strings"
	"time"
)

// Collections that setvar and expirevar can write into, by their dotted prefix.
var settableCollections = map[string]ast.TargetName{
	"tx":       ast.TargetTx,
	"ip":       ast.TargetIP,
	"session":  ast.TargetSession,
	"user":     ast.TargetUser,
	"global":   ast.TargetGlobal,
	"resource": ast.TargetResource,
}

// executeSetVar applies one setvar action against the per-transaction environment or a
// persistent collection.
func (t *Transaction) executeSetVar(sv *ast.SetVarAction) error {
	name, key, err := t.splitSetVarTarget(sv.Variable)
	if err != nil {
		return err
	}

	value := t.env.ExpandMacros(sv.Value)

	switch sv.Operator {
	case ast.Set:
		t.env.Set(name, key, value)

	case ast.Increment, ast.Decrement:
		// Non-numeric operands count as 0.
		curr := 0
		if v := t.env.Get(name, key); v != nil {
			curr = numericOf(v)
		}

		delta := numericOf(value)
		if sv.Operator == ast.Increment {
			curr += delta
		} else {
			curr -= delta
		}

		t.env.Set(name, key, ast.Value{ast.IntToken(curr)})

	case ast.DeleteVar:
		t.env.Delete(name, key)

	default:
		return fmt.Errorf("unsupported operator %d for setvar operation", sv.Operator)
	}

	return nil
}

// executeExpireVar sets a time-to-live on a persistent collection variable.
func (t *Transaction) executeExpireVar(ev *ast.ExpireVarAction) {
	name, key, err := t.splitSetVarTarget(ev.Variable)
	if err != nil {
		t.logger.Warn().Err(err).Msg("Error executing expirevar action")
		return
	}

	if !name.IsPersistentCollection() {
		t.logger.Warn().Str("variable", key).Msg("expirevar only applies to persistent collections")
		return
	}

	colName := strings.ToLower(ast.TargetNamesStrings[name])
	col := t.env.collections[colName]
	if col == nil {
		return
	}

	col.expire(key, time.Now().Add(time.Duration(ev.TTLSeconds)*time.Second))
}

// splitSetVarTarget resolves a setvar variable like "tx.score" or "ip.block_count" into
// the collection and the key, expanding any macros in the name first.
func (t *Transaction) splitSetVarTarget(variable ast.Value) (name ast.TargetName, key string, err error) {
	full := strings.ToLower(t.env.ExpandMacros(variable).String())

	pos := strings.IndexByte(full, '.')
	if pos == -1 {
		return 0, "", fmt.Errorf("unsupported variable %s for setvar operation", full)
	}

	colName := full[:pos]
	key = full[pos+1:]

	name, ok := settableCollections[colName]
	if !ok {
		return 0, "", fmt.Errorf("unsupported collection %s for setvar operation", colName)
	}

	return name, key, nil
}

func numericOf(v ast.Value) int {
	if n, ok := v.Int(); ok {
		return n
	}
	if n, err := strconv.Atoi(strings.TrimSpace(v.String())); err == nil {
		return n
	}
	return 0
}

// executeCtl applies a ctl-action to the transaction-local state.
func (t *Transaction) executeCtl(ctl *ast.CtlAction) {
	value := t.env.ExpandMacros(ctl.Value).String()

	switch ctl.Setting {

	case ast.CtlRuleEngine:
		switch strings.ToLower(value) {
		case "on":
			t.ruleEngineOverride = waf.RuleEngineOn
		case "off":
			t.ruleEngineOverride = waf.RuleEngineOff
		case "detectiononly":
			t.ruleEngineOverride = waf.RuleEngineDetectionOnly
		default:
			t.logger.Warn().Str("value", value).Msg("Invalid ctl:ruleEngine value")
		}

	case ast.CtlRequestBodyAccess:
		t.requestBodyAccess = strings.EqualFold(value, "on")

	case ast.CtlRequestBodyProcessor:
		switch strings.ToLower(value) {
		case "json":
			t.bodyProcessor = waf.BodyProcessorJSON
		case "xml":
			t.bodyProcessor = waf.BodyProcessorXML
		case "urlencoded":
			t.bodyProcessor = waf.BodyProcessorURLEncoded
		default:
			t.logger.Warn().Str("value", value).Msg("Invalid ctl:requestBodyProcessor value")
		}

	case ast.CtlForceRequestBodyVariable:
		t.forceRequestBodyVar = strings.EqualFold(value, "on")

	case ast.CtlAuditEngine:
		switch strings.ToLower(value) {
		case "on":
			t.auditEngineOverride = waf.AuditEngineOn
		case "off":
			t.auditEngineOverride = waf.AuditEngineOff
		case "relevantonly":
			t.auditEngineOverride = waf.AuditEngineRelevantOnly
		}

	case ast.CtlAuditLogParts:
		t.auditLogParts = value

	case ast.CtlRuleRemoveByID:
		if n, err := strconv.Atoi(value); err == nil {
			t.removedRules[n] = true
		} else {
			t.logger.Warn().Str("value", value).Msg("Invalid ctl:ruleRemoveById value")
		}

	case ast.CtlRuleRemoveByTag:
		t.removedTags[value] = true

	case ast.CtlRuleRemoveTargetByID:
		id, target, err := parseCtlTargetParam(value)
		if err != nil {
			t.logger.Warn().Err(err).Msg("Invalid ctl:ruleRemoveTargetById value")
			return
		}
		n, err := strconv.Atoi(id)
		if err != nil {
			t.logger.Warn().Str("value", value).Msg("Invalid ctl:ruleRemoveTargetById value")
			return
		}
		t.removedTargetsByID[n] = append(t.removedTargetsByID[n], target)

	case ast.CtlRuleRemoveTargetByTag:
		tag, target, err := parseCtlTargetParam(value)
		if err != nil {
			t.logger.Warn().Err(err).Msg("Invalid ctl:ruleRemoveTargetByTag value")
			return
		}
		t.removedTargetsByTag[tag] = append(t.removedTargetsByTag[tag], target)

	default:
		t.logger.Warn().Int("setting", int(ctl.Setting)).Msg("Unsupported ctl action")
	}
}

// parseCtlTargetParam splits a "selector;COLLECTION:key" ctl parameter into its parts.
func parseCtlTargetParam(value string) (selector string, target ast.Target, err error) {
	pos := strings.IndexByte(value, ';')
	if pos == -1 {
		return "", ast.Target{}, fmt.Errorf("expected selector;target format: %s", value)
	}

	selector = value[:pos]
	targetStr := value[pos+1:]

	var name, key string
	if colonPos := strings.IndexByte(targetStr, ':'); colonPos != -1 {
		name, key = targetStr[:colonPos], targetStr[colonPos+1:]
	} else {
		name = targetStr
	}

	tn, ok := ast.TargetNamesFromStr[strings.ToUpper(name)]
	if !ok {
		return "", ast.Target{}, fmt.Errorf("invalid target name: %s", name)
	}

	target = ast.Target{Name: tn, Selector: strings.ToLower(key)}
	return
}
