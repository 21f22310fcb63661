package engine

import (
	ast "secwaf/secrule/ast"
	"secwaf/waf"

	"strconv"
	"strings"
)

// processPhase walks the rules of one phase in source order: exception overlay, variable
// resolution, transformations, operator, then actions. Flow actions move the cursor.
func (t *Transaction) processPhase(phase int) bool {
	if t.ruleEngineMode() == waf.RuleEngineOff {
		return t.interventionPending()
	}

	// A previous allow-action ends rule processing for the rest of the transaction,
	// except for the logging phase.
	if t.allowed && phase != 5 {
		return t.interventionPending()
	}

	t.phase = phase

	var skipAfter string
	var skipCount int

	for _, stmtIdx := range t.engine.phaseIndex[phase] {
		stmt := t.engine.statements[stmtIdx]

		// If we are currently looking for a skipAfter landing point, keep skipping until we
		// find the marker or the rule whose id equals the label.
		if skipAfter != "" {
			switch stmt := stmt.(type) {
			case *ast.Marker:
				if stmt.Label == skipAfter {
					skipAfter = ""
				}
			case *ast.Rule:
				if strconv.Itoa(stmt.ID) == skipAfter {
					skipAfter = ""
				}
			}
			continue
		}

		// skip:N moves the cursor over N top-level rules, not counting markers.
		if skipCount > 0 {
			switch stmt.(type) {
			case *ast.Rule, *ast.ActionStmt, *ast.ScriptStmt:
				skipCount--
			}
			continue
		}

		switch stmt := stmt.(type) {
		case *ast.Marker:
			// Markers only matter while skipping.

		case *ast.ScriptStmt:
			t.logger.Warn().Int("ruleID", stmt.ID).Str("path", stmt.Path).Msg("Rule scripts are not executed by this engine")

		case *ast.ActionStmt:
			if t.isRuleRemoved(stmt.ID, stmt.Tags) {
				continue
			}

			outcome := t.runUnconditional(stmt)
			skipAfter = outcome.skipAfter
			skipCount = outcome.skipCount
			if t.interventionPending() || t.allowed {
				return t.interventionPending()
			}

		case *ast.Rule:
			if t.isRuleRemoved(stmt.ID, stmt.Tags) {
				continue
			}

			outcome := t.evalRule(stmt, stmtIdx)
			skipAfter = outcome.skipAfter
			skipCount = outcome.skipCount
			if t.interventionPending() || t.allowed {
				return t.interventionPending()
			}
		}
	}

	return t.interventionPending()
}

// ruleOutcome carries the flow decisions a triggered rule makes.
type ruleOutcome struct {
	skipAfter string
	skipCount int
}

// matchState accumulates the per-rule action effects while a rule's items trigger.
type matchState struct {
	shouldLog    bool
	auditLog     bool
	msg          ast.Value
	logData      ast.Value
	severity     int
	hasSeverity  bool
	decision     waf.Decision
	status       int
	redirectURL  ast.Value
	outcome      ruleOutcome
	capturedVars int
}

func newMatchState() *matchState {
	return &matchState{shouldLog: true, auditLog: true, decision: waf.Pass}
}

// evalRule evaluates one rule chain. On-match actions fire only when every link matches.
func (t *Transaction) evalRule(rule *ast.Rule, stmtIdx int) (outcome ruleOutcome) {
	ms := newMatchState()
	t.env.resetMatchesCollections()
	t.env.setRuleMeta(rule.ID, rule.Msg.String(), 0, false)

	defer t.clearCapturedVars(ms)

	itemMatches := make([][]match, len(rule.Items))
	for itemIdx := range rule.Items {
		item := &rule.Items[itemIdx]

		triggered, matches := t.evalRuleItem(rule, stmtIdx, itemIdx, item)
		if !triggered {
			return
		}

		t.env.updateMatches(matches)

		if len(matches) == 0 {
			// A negated predicate can trigger without a concrete match value.
			matches = []match{{}}
		}

		// Captures bind at once so that later links can read them.
		for _, a := range item.Actions {
			if _, ok := a.(*ast.CaptureAction); ok {
				t.bindCapturedVars(matches[len(matches)-1].Captures, ms)
			}
		}
		itemMatches[itemIdx] = matches
	}

	// The whole chain matched. Run the per-match actions of every link for each of its
	// matches, then its chain-complete actions, link by link in order.
	for itemIdx := range rule.Items {
		for i := range itemMatches[itemIdx] {
			t.runMatchActions(rule.Items[itemIdx].Actions, &itemMatches[itemIdx][i], ms)
		}
		t.runChainCompleteActions(rule.Items[itemIdx].Actions, ms)
	}

	t.finishTriggeredRule(rule.ID, ms)
	return ms.outcome
}

// runUnconditional executes a SecAction statement: it always triggers.
func (t *Transaction) runUnconditional(stmt *ast.ActionStmt) (outcome ruleOutcome) {
	ms := newMatchState()
	t.env.resetMatchesCollections()
	t.env.setRuleMeta(stmt.ID, stmt.Msg.String(), 0, false)

	defer t.clearCapturedVars(ms)

	m := match{}
	t.runMatchActions(stmt.Actions, &m, ms)
	t.runChainCompleteActions(stmt.Actions, ms)

	t.finishTriggeredRule(stmt.ID, ms)
	return ms.outcome
}

// evalRuleItem evaluates one link of a rule chain: resolve targets, transform values,
// run the operator per value. Negation inverts the outcome of each value on its own.
func (t *Transaction) evalRuleItem(rule *ast.Rule, stmtIdx int, itemIdx int, item *ast.RuleItem) (triggered bool, matches []match) {
	op := t.engine.ops[opKey{stmtIdx, itemIdx}]
	if op == nil {
		t.logger.Error().Int("ruleID", rule.ID).Msg("Missing compiled operator")
		return false, nil
	}

	exceptTargets := t.effectiveExceptTargets(rule, item)

	multiMatch := false
	for _, a := range item.Actions {
		if _, ok := a.(*ast.MultiMatchAction); ok {
			multiMatch = true
		}
	}

	neg := item.Predicate.Neg

	for _, target := range item.Predicate.Targets {
		values, err := t.resolveTarget(target, exceptTargets)
		if err != nil {
			t.logger.Debug().Int("ruleID", rule.ID).Err(err).Msg("Variable resolution miss")
			continue
		}

		for _, v := range values {
			var inputs []string
			if multiMatch {
				// The operator runs against the value after each transformation step.
				inputs = append(inputs, string(v.Data))
				for i := range item.Transformations {
					inputs = append(inputs, t.cache.apply(v, item.Transformations[:i+1]))
				}
			} else {
				inputs = []string{t.cache.apply(v, item.Transformations)}
			}

			for _, input := range inputs {
				matched, captures, err := op.Evaluate(t.env, []byte(input))
				if err != nil {
					t.logger.Debug().Int("ruleID", rule.ID).Err(err).Msg("Operator evaluation error")
					continue
				}

				if matched != neg {
					m := match{
						TargetName: v.Name,
						FieldName:  v.Key,
						Value:      []byte(input),
						Captures:   captures,
					}
					matches = append(matches, m)
					break
				}
			}
		}
	}

	triggered = len(matches) > 0
	return
}

// effectiveExceptTargets merges the rule's own exclusions with the per-transaction
// ctl:ruleRemoveTargetById/ByTag overlays.
func (t *Transaction) effectiveExceptTargets(rule *ast.Rule, item *ast.RuleItem) []ast.Target {
	except := item.Predicate.ExceptTargets

	if extra, ok := t.removedTargetsByID[rule.ID]; ok {
		except = append(append([]ast.Target{}, except...), extra...)
	}

	for _, tag := range rule.Tags {
		if extra, ok := t.removedTargetsByTag[tag]; ok {
			except = append(append([]ast.Target{}, except...), extra...)
		}
	}

	return except
}

// runMatchActions runs the actions that fire for each match of a rule item.
func (t *Transaction) runMatchActions(actions []ast.Action, m *match, ms *matchState) {
	for _, action := range actions {
		switch action := action.(type) {

		case *ast.SetVarAction:
			if err := t.executeSetVar(action); err != nil {
				t.logger.Warn().Err(err).Msg("Error executing setvar action")
			}

		case *ast.SetEnvAction:
			name := strings.ToLower(t.env.ExpandMacros(action.Name).String())
			t.envMap[name] = t.env.ExpandMacros(action.Value).String()

		case *ast.InitColAction:
			key := t.env.ExpandMacros(action.Key).String()
			t.env.initCollection(action.Collection, key)

		case *ast.ExpireVarAction:
			t.executeExpireVar(action)

		case *ast.SetUIDAction:
			t.env.initCollection("user", t.env.ExpandMacros(action.UID).String())

		case *ast.SetSIDAction:
			t.env.initCollection("session", t.env.ExpandMacros(action.SID).String())

		case *ast.ExecAction:
			t.logger.Warn().Str("path", action.Path).Msg("The exec action is not executed by this engine")

		case *ast.NoLogAction:
			ms.shouldLog = false

		case *ast.LogAction:
			ms.shouldLog = true

		case *ast.AuditLogAction:
			ms.auditLog = true
			t.auditRelevant = true

		case *ast.NoAuditLogAction:
			ms.auditLog = false

		case *ast.SeverityAction:
			ms.severity = action.Severity
			ms.hasSeverity = true
			t.env.ruleMeta["severity"] = strconv.Itoa(action.Severity)

		case *ast.CaptureAction:
			t.bindCapturedVars(m.Captures, ms)

		case *ast.CtlAction:
			t.executeCtl(action)
		}
	}
}

// runChainCompleteActions runs the actions that fire only once the whole chain has matched.
func (t *Transaction) runChainCompleteActions(actions []ast.Action, ms *matchState) {
	for _, action := range actions {
		switch action := action.(type) {

		case *ast.MsgAction:
			ms.msg = action.Msg

		case *ast.LogDataAction:
			ms.logData = action.LogData

		case *ast.StatusAction:
			ms.status = action.Code

		case *ast.SkipAction:
			ms.outcome.skipCount = action.Count

		case *ast.SkipAfterAction:
			ms.outcome.skipAfter = action.Label

		case *ast.AllowAction:
			ms.decision = waf.Allow

		case *ast.DenyAction, *ast.BlockAction:
			ms.decision = waf.Block

		case *ast.DropAction:
			ms.decision = waf.Drop

		case *ast.RedirectAction:
			ms.decision = waf.Redirect
			ms.redirectURL = action.URL

		case *ast.ProxyAction:
			ms.decision = waf.Redirect
			ms.redirectURL = action.URL

		case *ast.PassAction:
			ms.decision = waf.Pass
		}
	}
}

// finishTriggeredRule logs the rule hit and records the intervention if the rule was disruptive.
func (t *Transaction) finishTriggeredRule(ruleID int, ms *matchState) {
	msg := t.env.ExpandMacros(ms.msg).String()
	logData := t.env.ExpandMacros(ms.logData).String()

	// Phase 5 rules observe, they never disrupt.
	if t.phase == 5 && ms.decision != waf.Pass {
		ms.decision = waf.Pass
	}

	t.logger.Debug().Int("ruleID", ruleID).Str("action", ms.decision.String()).Msg("Rule triggered")

	if ms.shouldLog {
		t.logEntries = append(t.logEntries, msg)
		t.triggeredRuleIDs = append(t.triggeredRuleIDs, ruleID)
		if t.engine.results != nil {
			t.engine.results.RuleTriggered(ruleID, ms.decision.String(), msg, logData, t.engine.ruleSetID)
		}
	}
	if ms.auditLog && ms.shouldLog {
		t.auditRelevant = true
	}

	if ms.decision == waf.Pass {
		return
	}

	iv := &waf.Intervention{
		Action:     ms.decision,
		RuleID:     ruleID,
		Log:        []string{msg},
		Disruptive: ms.decision != waf.Allow,
	}

	if ms.decision == waf.Allow {
		t.allowed = true
	}

	switch ms.decision {
	case waf.Block:
		iv.Status = ms.status
		if iv.Status == 0 {
			iv.Status = 403
		}
	case waf.Redirect:
		iv.Status = ms.status
		if iv.Status == 0 {
			iv.Status = 302
		}
		iv.URL = t.env.ExpandMacros(ms.redirectURL).String()
	}

	t.recordIntervention(iv)
}

// bindCapturedVars binds regex capture groups 0-9 into TX:0 through TX:9 and clears the rest.
func (t *Transaction) bindCapturedVars(captures [][]byte, ms *matchState) {
	n := len(captures)
	if n > 10 {
		n = 10
	}

	for i := 0; i < n; i++ {
		var token ast.Token = ast.StringToken(captures[i])
		if num, err := strconv.Atoi(string(captures[i])); err == nil {
			token = ast.IntToken(num)
		}
		t.env.Set(ast.TargetTx, strconv.Itoa(i), ast.Value{token})
	}

	for i := n; i < 10; i++ {
		t.env.Delete(ast.TargetTx, strconv.Itoa(i))
	}

	if n > ms.capturedVars {
		ms.capturedVars = n
	}
}

// clearCapturedVars removes the TX:0-9 bindings once the rule is done.
func (t *Transaction) clearCapturedVars(ms *matchState) {
	for i := 0; i < ms.capturedVars; i++ {
		t.env.Delete(ast.TargetTx, strconv.Itoa(i))
	}
	ms.capturedVars = 0
}

func (t *Transaction) isRuleRemoved(id int, tags []string) bool {
	if t.removedRules[id] {
		return true
	}
	for _, tag := range tags {
		if t.removedTags[tag] {
			return true
		}
	}
	return false
}
