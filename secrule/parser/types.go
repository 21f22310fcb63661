package parser

import (
	ast "secwaf/secrule/ast"
	"secwaf/waf"
)

// PhraseLoaderCb loads the lines of a data file referenced by @pmFromFile or @ipMatchFromFile.
type PhraseLoaderCb func(path string) ([]string, error)

// IncludeLoaderCb loads and parses a file referenced by an Include directive.
type IncludeLoaderCb func(path string) (*ParsedRuleSet, error)

// ParsedRuleSet is the side-effect free output of parsing one configuration input.
// The engine applies it as a builder.
type ParsedRuleSet struct {
	Statements     []ast.Statement
	DefaultActions map[int]*DefaultActions
	Config         waf.EngineConfig
	ConfigSet      map[string]bool // Which directives were explicitly present, for include-merging.
	Exceptions     Exceptions
}

// DefaultActions holds the per-phase actions and transformations from a SecDefaultAction directive.
type DefaultActions struct {
	Actions         []ast.Action
	Transformations []ast.Transformation
	Line            int
}

// IDRange is an inclusive rule-id interval used by remove-by-id exceptions.
type IDRange struct {
	Start int
	End   int
}

// Contains says whether an id is in the range.
func (r IDRange) Contains(id int) bool {
	return r.Start <= id && id <= r.End
}

// TargetUpdate appends targets and exclusions to the variable list of the rules it selects.
type TargetUpdate struct {
	ID            int
	Tag           string
	Msg           string
	Targets       []ast.Target
	ExceptTargets []ast.Target
}

// ActionUpdate appends its actions and transformations to the head item of the rule with that id.
// Where only one value of a kind applies (msg, status, the disruptive action, log/nolog), the appended
// action wins because it runs last; other actions are added, not replaced.
type ActionUpdate struct {
	ID              int
	Actions         []ast.Action
	Transformations []ast.Transformation
}

// Exceptions is the rule exception overlay accumulated from SecRuleRemove* and SecRuleUpdate* directives.
type Exceptions struct {
	RemoveByID    []IDRange
	RemoveByTag   []string
	RemoveByMsg   []string
	TargetUpdates []TargetUpdate
	ActionUpdates []ActionUpdate
}

func newParsedRuleSet() *ParsedRuleSet {
	return &ParsedRuleSet{
		DefaultActions: make(map[int]*DefaultActions),
		Config:         waf.DefaultEngineConfig(),
		ConfigSet:      make(map[string]bool),
	}
}

// Merge folds an included rule set into this one. Statements append, scalar settings
// last-writer-wins, default actions must not collide on a phase.
func (p *ParsedRuleSet) Merge(other *ParsedRuleSet) error {
	p.Statements = append(p.Statements, other.Statements...)

	for phase, da := range other.DefaultActions {
		if _, ok := p.DefaultActions[phase]; ok {
			return errDuplicateDefaultAction(phase)
		}
		p.DefaultActions[phase] = da
	}

	for k := range other.ConfigSet {
		p.ConfigSet[k] = true
	}
	mergeConfig(&p.Config, &other.Config, other.ConfigSet)

	p.Exceptions.RemoveByID = append(p.Exceptions.RemoveByID, other.Exceptions.RemoveByID...)
	p.Exceptions.RemoveByTag = append(p.Exceptions.RemoveByTag, other.Exceptions.RemoveByTag...)
	p.Exceptions.RemoveByMsg = append(p.Exceptions.RemoveByMsg, other.Exceptions.RemoveByMsg...)
	p.Exceptions.TargetUpdates = append(p.Exceptions.TargetUpdates, other.Exceptions.TargetUpdates...)
	p.Exceptions.ActionUpdates = append(p.Exceptions.ActionUpdates, other.Exceptions.ActionUpdates...)

	return nil
}
