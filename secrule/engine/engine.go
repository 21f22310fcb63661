package engine

import (
	ast "secwaf/secrule/ast"
	"secwaf/secrule/operators"
	"secwaf/secrule/parser"
	tr "secwaf/secrule/transformations"
	"secwaf/waf"

	"fmt"
	"path"
	"regexp"

	"github.com/rs/zerolog"
)

// Options carries the host-provided collaborators for an Engine.
type Options struct {
	Logger        zerolog.Logger
	Store         waf.PersistentStore
	GeoDB         waf.GeoDB
	RBLResolver   waf.RBLResolver
	ResultsLogger waf.ResultsLogger
	AuditLogger   waf.AuditLogger
	RuleSetID     waf.RuleSetID
}

// Engine holds a compiled rule set. It is immutable once built and safe to share between transactions.
type Engine struct {
	logger     zerolog.Logger
	config     waf.EngineConfig
	statements []ast.Statement
	phaseIndex [6][]int // For each phase 1-5, the statement indexes to walk, markers included.
	byID       map[int]*ast.Rule
	defaults   map[int]*parser.DefaultActions
	ops        map[opKey]operators.Operator
	selectorRx map[string]*regexp.Regexp

	store     waf.PersistentStore
	geoDB     waf.GeoDB
	rbl       waf.RBLResolver
	results   waf.ResultsLogger
	audit     waf.AuditLogger
	ruleSetID waf.RuleSetID

	ruleCount int
}

type opKey struct {
	stmtIdx int
	itemIdx int
}

// Config returns the engine configuration accumulated from the directives.
func (e *Engine) Config() waf.EngineConfig {
	return e.config
}

// RuleCount returns the number of loaded rules, including SecActions and rule scripts.
func (e *Engine) RuleCount() int {
	return e.ruleCount
}

// NewEngine compiles a parsed rule set into an Engine: the exception overlay is applied,
// default actions merge in, operators compile, and the phase index is built.
func NewEngine(parsed *parser.ParsedRuleSet, opts Options, fileLoader func(path string) ([]string, error)) (*Engine, error) {
	e := &Engine{
		logger:     opts.Logger,
		config:     parsed.Config,
		byID:       make(map[int]*ast.Rule),
		defaults:   parsed.DefaultActions,
		ops:        make(map[opKey]operators.Operator),
		selectorRx: make(map[string]*regexp.Regexp),
		store:      opts.Store,
		geoDB:      opts.GeoDB,
		rbl:        opts.RBLResolver,
		results:    opts.ResultsLogger,
		audit:      opts.AuditLogger,
		ruleSetID:  opts.RuleSetID,
	}

	statements, err := applyExceptions(parsed.Statements, &parsed.Exceptions)
	if err != nil {
		return nil, err
	}
	e.statements = statements

	if err := e.mergeDefaults(); err != nil {
		return nil, err
	}

	if err := e.index(); err != nil {
		return nil, err
	}

	if err := e.compile(fileLoader); err != nil {
		return nil, err
	}

	return e, nil
}

// applyExceptions applies the load-time overlay: remove-by-id/tag/msg drops whole rules,
// target updates append targets and exclusions, action updates append replacement actions.
func applyExceptions(statements []ast.Statement, ex *parser.Exceptions) ([]ast.Statement, error) {
	out := make([]ast.Statement, 0, len(statements))

statementLoop:
	for _, stmt := range statements {
		rule, isRule := stmt.(*ast.Rule)
		if !isRule {
			out = append(out, stmt)
			continue
		}

		for _, r := range ex.RemoveByID {
			if r.Contains(rule.ID) {
				continue statementLoop
			}
		}
		for _, tag := range ex.RemoveByTag {
			if ruleHasTagGlob(rule, tag) {
				continue statementLoop
			}
		}
		for _, msg := range ex.RemoveByMsg {
			if globMatch(msg, rule.Msg.String()) {
				continue statementLoop
			}
		}

		for _, u := range ex.TargetUpdates {
			applies := (u.ID != 0 && u.ID == rule.ID) ||
				(u.Tag != "" && ruleHasTagGlob(rule, u.Tag)) ||
				(u.Msg != "" && globMatch(u.Msg, rule.Msg.String()))
			if !applies {
				continue
			}

			for i := range rule.Items {
				rule.Items[i].Predicate.Targets = append(rule.Items[i].Predicate.Targets, u.Targets...)
				rule.Items[i].Predicate.ExceptTargets = append(rule.Items[i].Predicate.ExceptTargets, u.ExceptTargets...)
			}
		}

		for _, u := range ex.ActionUpdates {
			if u.ID != rule.ID {
				continue
			}

			rule.Items[0].Actions = append(rule.Items[0].Actions, u.Actions...)
			rule.Items[0].Transformations = append(rule.Items[0].Transformations, u.Transformations...)
		}

		out = append(out, rule)
	}

	return out, nil
}

func ruleHasTagGlob(rule *ast.Rule, pattern string) bool {
	for _, tag := range rule.Tags {
		if globMatch(pattern, tag) {
			return true
		}
	}
	return false
}

func globMatch(pattern string, s string) bool {
	if s == "" {
		return false
	}
	matched, err := path.Match(pattern, s)
	if err != nil {
		// An invalid glob degrades to a literal comparison.
		return pattern == s
	}
	return matched
}

// mergeDefaults folds each phase's SecDefaultAction into the rules of that phase.
// Default transformations prepend to every chain item and the none-transformation resets the list.
// Default actions prepend to the head item, so the rule's own actions take precedence in order.
func (e *Engine) mergeDefaults() error {
	for _, stmt := range e.statements {
		switch stmt := stmt.(type) {
		case *ast.Rule:
			da := e.defaults[phaseOf(stmt.Phase)]
			for i := range stmt.Items {
				var tt []ast.Transformation
				if da != nil {
					tt = append(tt, da.Transformations...)
				}
				tt = append(tt, stmt.Items[i].Transformations...)
				stmt.Items[i].Transformations = tr.NormalizePipeline(tt)
			}

			if da != nil {
				stmt.Items[0].Actions = append(append([]ast.Action{}, da.Actions...), stmt.Items[0].Actions...)
			}

		case *ast.ActionStmt:
			da := e.defaults[phaseOf(stmt.Phase)]
			var tt []ast.Transformation
			if da != nil {
				tt = append(tt, da.Transformations...)
			}
			tt = append(tt, stmt.Transformations...)
			stmt.Transformations = tr.NormalizePipeline(tt)

			if da != nil {
				stmt.Actions = append(append([]ast.Action{}, da.Actions...), stmt.Actions...)
			}
		}
	}

	return nil
}

// index builds the by-id map and the per-phase statement walk order. Markers appear in every
// phase so that skipAfter can find its landing point regardless of phase.
func (e *Engine) index() error {
	for i, stmt := range e.statements {
		switch stmt := stmt.(type) {
		case *ast.Rule:
			if stmt.Phase < 0 || phaseOf(stmt.Phase) > 5 {
				return fmt.Errorf("rule %d: invalid phase %d", stmt.ID, stmt.Phase)
			}
			if _, ok := e.byID[stmt.ID]; ok {
				return fmt.Errorf("duplicate rule ID %d", stmt.ID)
			}
			e.byID[stmt.ID] = stmt
			e.phaseIndex[phaseOf(stmt.Phase)] = append(e.phaseIndex[phaseOf(stmt.Phase)], i)
			e.ruleCount++

		case *ast.ActionStmt:
			if _, ok := e.byID[stmt.ID]; ok {
				return fmt.Errorf("duplicate rule ID %d", stmt.ID)
			}
			e.byID[stmt.ID] = nil
			e.phaseIndex[phaseOf(stmt.Phase)] = append(e.phaseIndex[phaseOf(stmt.Phase)], i)
			e.ruleCount++

		case *ast.ScriptStmt:
			e.phaseIndex[phaseOf(stmt.Phase)] = append(e.phaseIndex[phaseOf(stmt.Phase)], i)
			e.ruleCount++

		case *ast.Marker:
			for phase := 1; phase <= 5; phase++ {
				e.phaseIndex[phase] = append(e.phaseIndex[phase], i)
			}
		}
	}

	return nil
}

// compile builds every operator and precompiles the regex target selectors.
func (e *Engine) compile(fileLoader func(path string) ([]string, error)) error {
	for i, stmt := range e.statements {
		rule, ok := stmt.(*ast.Rule)
		if !ok {
			continue
		}

		for j, item := range rule.Items {
			op, err := operators.New(item.Predicate.Op)
			if err != nil {
				return fmt.Errorf("rule %d: %v", rule.ID, err)
			}

			err = op.Init(operators.InitArgs{
				Val:          item.Predicate.Val,
				Phrases:      item.PmPhrases,
				FileLoader:   fileLoader,
				RxMatchLimit: e.config.RxMatchLimit,
			})
			if err != nil {
				return fmt.Errorf("rule %d: %v", rule.ID, err)
			}

			e.ops[opKey{i, j}] = op

			for _, target := range append(item.Predicate.Targets, item.Predicate.ExceptTargets...) {
				if target.IsRegexSelector {
					if _, ok := e.selectorRx[target.Selector]; ok {
						continue
					}

					// Regex selectors are not case sensitive.
					rx, err := regexp.Compile(fmt.Sprintf("(?i:%s)", target.Selector))
					if err != nil {
						return fmt.Errorf("rule %d: invalid target regex selector %v: %v", rule.ID, target.Selector, err)
					}
					e.selectorRx[target.Selector] = rx
				}
			}
		}
	}

	return nil
}

const defaultPhase = 2

func phaseOf(phase int) int {
	if phase == 0 {
		return defaultPhase
	}
	return phase
}
