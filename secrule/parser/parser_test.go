package parser

import (
	ast "secwaf/secrule/ast"
	"secwaf/waf"

	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func parse(t *testing.T, input string) *ParsedRuleSet {
	p := NewRuleParser()
	rs, err := p.Parse("test.conf", input, nil, nil)
	require.NoError(t, err)
	return rs
}

func TestParseSecRule(t *testing.T) {
	// Arrange
	input := `SecRule ARGS "@contains evil" "id:100,phase:2,deny,status:403,msg:'Evil found'"`

	// Act
	rs := parse(t, input)

	// Assert
	require.Len(t, rs.Statements, 1)
	r, ok := rs.Statements[0].(*ast.Rule)
	require.True(t, ok)
	assert.Equal(t, 100, r.ID)
	assert.Equal(t, 2, r.Phase)
	require.Len(t, r.Items, 1)
	assert.Equal(t, ast.Contains, r.Items[0].Predicate.Op)
	assert.Equal(t, "evil", r.Items[0].Predicate.Val.String())
	require.Len(t, r.Items[0].Predicate.Targets, 1)
	assert.Equal(t, ast.TargetArgs, r.Items[0].Predicate.Targets[0].Name)
	assert.Equal(t, "Evil found", r.Msg.String())
}

func TestParseDefaultOperatorIsRx(t *testing.T) {
	rs := parse(t, `SecRule REQUEST_URI "^/admin" "id:1"`)

	r := rs.Statements[0].(*ast.Rule)
	assert.Equal(t, ast.Rx, r.Items[0].Predicate.Op)
	assert.False(t, r.Items[0].Predicate.Neg)
}

func TestParseNegatedOperator(t *testing.T) {
	rs := parse(t, `SecRule REQUEST_METHOD "!@streq GET" "id:1"`)

	r := rs.Statements[0].(*ast.Rule)
	assert.Equal(t, ast.Streq, r.Items[0].Predicate.Op)
	assert.True(t, r.Items[0].Predicate.Neg)
}

func TestParseTargetsVariants(t *testing.T) {
	// Arrange and act
	rs := parse(t, `SecRule ARGS:id|&ARGS|ARGS:/^foo/|!ARGS:safe|TX:%{RULE.id} "@rx x" "id:1"`)

	// Assert
	r := rs.Statements[0].(*ast.Rule)
	p := r.Items[0].Predicate
	require.Len(t, p.Targets, 4)
	require.Len(t, p.ExceptTargets, 1)

	assert.Equal(t, ast.TargetArgs, p.Targets[0].Name)
	assert.Equal(t, "id", p.Targets[0].Selector)

	assert.True(t, p.Targets[1].IsCount)

	assert.True(t, p.Targets[2].IsRegexSelector)
	assert.Equal(t, "^foo", p.Targets[2].Selector)

	assert.Equal(t, "safe", p.ExceptTargets[0].Selector)

	require.NotNil(t, p.Targets[3].SelectorMacro)
	assert.True(t, p.Targets[3].SelectorMacro.HasMacros())
}

func TestParseInvalidRegexSelectorFails(t *testing.T) {
	p := NewRuleParser()
	_, err := p.Parse("test.conf", `SecRule ARGS:/(/ "@rx x" "id:1"`, nil, nil)
	assert.Error(t, err)
}

func TestParseChain(t *testing.T) {
	// Arrange
	input := `
SecRule REQUEST_METHOD "@streq POST" "id:4,phase:2,chain,deny"
SecRule ARGS:token "@streq bad" "t:none"
`

	// Act
	rs := parse(t, input)

	// Assert
	require.Len(t, rs.Statements, 1)
	r := rs.Statements[0].(*ast.Rule)
	assert.Equal(t, 4, r.ID)
	require.Len(t, r.Items, 2)
	assert.Equal(t, "bad", r.Items[1].Predicate.Val.String())
}

func TestParseUnterminatedChainFails(t *testing.T) {
	p := NewRuleParser()
	_, err := p.Parse("test.conf", `SecRule ARGS "@contains x" "id:1,chain"`, nil, nil)
	assert.Error(t, err)
}

func TestParseChainedRuleWithOwnIDFails(t *testing.T) {
	input := `
SecRule ARGS "@contains x" "id:1,chain"
SecRule ARGS "@contains y" "id:2"
`
	p := NewRuleParser()
	_, err := p.Parse("test.conf", input, nil, nil)
	assert.Error(t, err)
}

func TestParseMissingIDFails(t *testing.T) {
	p := NewRuleParser()
	_, err := p.Parse("test.conf", `SecRule ARGS "@contains x" "phase:2,deny"`, nil, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing ID")
}

func TestParseSecAction(t *testing.T) {
	// Act
	rs := parse(t, `SecAction "id:5,phase:1,nolog,pass,setvar:tx.score=+1"`)

	// Assert
	a, ok := rs.Statements[0].(*ast.ActionStmt)
	require.True(t, ok)
	assert.Equal(t, 5, a.ID)
	assert.Equal(t, 1, a.Phase)

	var foundSetVar *ast.SetVarAction
	for _, act := range a.Actions {
		if sv, ok := act.(*ast.SetVarAction); ok {
			foundSetVar = sv
		}
	}
	require.NotNil(t, foundSetVar)
	assert.Equal(t, ast.Increment, foundSetVar.Operator)
	assert.Equal(t, "tx.score", foundSetVar.Variable.String())
	assert.Equal(t, "1", foundSetVar.Value.String())
}

func TestParseSetVarVariants(t *testing.T) {
	// Arrange
	type testcase struct {
		input    string
		expected ast.SetVarActionOperator
	}
	tests := []testcase{
		{"tx.score=5", ast.Set},
		{"tx.score=+2", ast.Increment},
		{"tx.score=-2", ast.Decrement},
		{"!tx.score", ast.DeleteVar},
		{"tx.score", ast.Set},
	}

	for _, test := range tests {
		// Act
		sv, err := parseSetVarAction(test.input)

		// Assert
		require.NoError(t, err, "input: %s", test.input)
		assert.Equal(t, test.expected, sv.Operator, "input: %s", test.input)
	}
}

func TestParseSecMarkerAndSkipAfter(t *testing.T) {
	input := `
SecRule ARGS "@contains x" "id:1,skipAfter:END_GROUP"
SecMarker END_GROUP
`
	rs := parse(t, input)
	require.Len(t, rs.Statements, 2)
	m, ok := rs.Statements[1].(*ast.Marker)
	require.True(t, ok)
	assert.Equal(t, "END_GROUP", m.Label)
}

func TestParseSecRuleScript(t *testing.T) {
	rs := parse(t, `SecRuleScript /etc/waf/check.lua "id:9,phase:2,deny"`)

	s, ok := rs.Statements[0].(*ast.ScriptStmt)
	require.True(t, ok)
	assert.Equal(t, 9, s.ID)
	assert.Equal(t, "/etc/waf/check.lua", s.Path)
}

func TestParseSecDefaultAction(t *testing.T) {
	// Act
	rs := parse(t, `SecDefaultAction "phase:2,log,auditlog,deny,status:403"`)

	// Assert
	da := rs.DefaultActions[2]
	require.NotNil(t, da)

	hasDeny := false
	for _, a := range da.Actions {
		if _, ok := a.(*ast.DenyAction); ok {
			hasDeny = true
		}
	}
	assert.True(t, hasDeny)
}

func TestParseSecDefaultActionErrors(t *testing.T) {
	// Arrange
	type testcase struct {
		input string
	}
	tests := []testcase{
		{`SecDefaultAction "phase:2,log"`}, // No disruptive action
		{`SecDefaultAction "phase:2,deny,t:none"`},
		{"SecDefaultAction \"phase:2,deny\"\nSecDefaultAction \"phase:2,block\""}, // Duplicate phase
	}

	for _, test := range tests {
		p := NewRuleParser()

		// Act
		_, err := p.Parse("test.conf", test.input, nil, nil)

		// Assert
		assert.Error(t, err, "input: %s", test.input)
	}
}

func TestParseConfigDirectives(t *testing.T) {
	// Arrange
	input := `
SecRuleEngine DetectionOnly
SecRequestBodyAccess On
SecRequestBodyLimit 1000000
SecRequestBodyLimitAction ProcessPartial
SecArgumentSeparator ;
SecDebugLog /tmp/debug.log
SecDebugLogLevel 4
SecAuditEngine RelevantOnly
SecGeoLookupDb /etc/waf/geo.dat
SecCollectionTimeout 600
SecPcreMatchLimit 250000
SecComponentSignature "CRS/3.2"
SecWebAppId shop
`

	// Act
	rs := parse(t, input)

	// Assert
	assert.Equal(t, waf.RuleEngineDetectionOnly, rs.Config.RuleEngine)
	assert.True(t, rs.Config.RequestBodyAccess)
	assert.Equal(t, 1000000, rs.Config.RequestBodyLimit)
	assert.Equal(t, waf.BodyLimitProcessPartial, rs.Config.RequestBodyLimitAction)
	assert.Equal(t, byte(';'), rs.Config.ArgumentSeparator)
	assert.Equal(t, "/tmp/debug.log", rs.Config.DebugLogPath)
	assert.Equal(t, 4, rs.Config.DebugLogLevel)
	assert.Equal(t, waf.AuditEngineRelevantOnly, rs.Config.AuditEngine)
	assert.Equal(t, "/etc/waf/geo.dat", rs.Config.GeoLookupDBPath)
	assert.Equal(t, 600, rs.Config.CollectionTimeoutSec)
	assert.Equal(t, 250000, rs.Config.RxMatchLimit)
	assert.Equal(t, []string{"CRS/3.2"}, rs.Config.ComponentSignatures)
	assert.Equal(t, "shop", rs.Config.WebAppID)
}

func TestParseExceptionDirectives(t *testing.T) {
	// Arrange
	input := `
SecRuleRemoveById 100 200-300
SecRuleRemoveByTag attack-sqli
SecRuleRemoveByMsg "SQL Injection*"
SecRuleUpdateTargetById 100 "!ARGS:email"
SecRuleUpdateActionById 200 "nolog"
`

	// Act
	rs := parse(t, input)

	// Assert
	require.Len(t, rs.Exceptions.RemoveByID, 2)
	assert.True(t, rs.Exceptions.RemoveByID[0].Contains(100))
	assert.True(t, rs.Exceptions.RemoveByID[1].Contains(250))
	assert.False(t, rs.Exceptions.RemoveByID[1].Contains(301))

	assert.Equal(t, []string{"attack-sqli"}, rs.Exceptions.RemoveByTag)
	assert.Equal(t, []string{"SQL Injection*"}, rs.Exceptions.RemoveByMsg)

	require.Len(t, rs.Exceptions.TargetUpdates, 1)
	assert.Equal(t, 100, rs.Exceptions.TargetUpdates[0].ID)
	require.Len(t, rs.Exceptions.TargetUpdates[0].ExceptTargets, 1)
	assert.Equal(t, "email", rs.Exceptions.TargetUpdates[0].ExceptTargets[0].Selector)

	require.Len(t, rs.Exceptions.ActionUpdates, 1)
	assert.Equal(t, 200, rs.Exceptions.ActionUpdates[0].ID)
}

func TestParseUnknownDirectiveReportsLine(t *testing.T) {
	p := NewRuleParser()
	_, err := p.Parse("test.conf", "SecRuleEngine On\nSecBogusDirective foo\n", nil, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "test.conf:2")
}

func TestParseUnsupportedLegacyDirective(t *testing.T) {
	p := NewRuleParser()
	_, err := p.Parse("test.conf", `SecStreamInBodyInspection On`, nil, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not supported")
}

func TestParseUnsupportedLegacyOperator(t *testing.T) {
	p := NewRuleParser()
	_, err := p.Parse("test.conf", `SecRule ARGS "@rsub s/a/b/" "id:1"`, nil, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not supported")
}

func TestParsePauseActionUnsupported(t *testing.T) {
	p := NewRuleParser()
	_, err := p.Parse("test.conf", `SecRule ARGS "@contains x" "id:1,pause:3000"`, nil, nil)
	assert.Error(t, err)
}

func TestParseMultilineContinuation(t *testing.T) {
	input := "SecRule ARGS \\\n    \"@contains evil\" \\\n    \"id:7,deny\"\n"
	rs := parse(t, input)

	r := rs.Statements[0].(*ast.Rule)
	assert.Equal(t, 7, r.ID)
}

func TestParseCommentsIgnored(t *testing.T) {
	input := `
# This is a comment
SecRule ARGS "@contains x" "id:1"
# Another comment
`
	rs := parse(t, input)
	assert.Len(t, rs.Statements, 1)
}

func TestParseMacroValue(t *testing.T) {
	// Act
	v, err := parseValue("Matched %{TX.0} in %{MATCHED_VAR_NAME}")

	// Assert
	require.NoError(t, err)
	require.Len(t, v, 4)
	assert.Equal(t, ast.StringToken("Matched "), v[0])
	assert.Equal(t, ast.MacroToken{Name: ast.TargetTx, Selector: "0"}, v[1])
	assert.Equal(t, ast.StringToken(" in "), v[2])
	assert.Equal(t, ast.MacroToken{Name: ast.TargetMatchedVarName}, v[3])
}

func TestParseMacroValueUnknownVariableFails(t *testing.T) {
	_, err := parseValue("%{NOT_A_VARIABLE}")
	assert.Error(t, err)
}

func TestParseIncludeMerges(t *testing.T) {
	// Arrange
	p := NewRuleParser()
	ilcb := func(path string) (*ParsedRuleSet, error) {
		assert.Equal(t, "included.conf", path)
		return p.Parse(path, `SecRule ARGS "@contains y" "id:2"`, nil, nil)
	}

	// Act
	rs, err := p.Parse("test.conf", "SecRule ARGS \"@contains x\" \"id:1\"\nInclude included.conf\n", nil, ilcb)

	// Assert
	require.NoError(t, err)
	assert.Len(t, rs.Statements, 2)
}

func TestParseCtlAction(t *testing.T) {
	rs := parse(t, `SecRule ARGS "@contains x" "id:1,ctl:ruleEngine=Off,ctl:ruleRemoveById=999"`)

	r := rs.Statements[0].(*ast.Rule)
	var ctls []*ast.CtlAction
	for _, a := range r.Items[0].Actions {
		if c, ok := a.(*ast.CtlAction); ok {
			ctls = append(ctls, c)
		}
	}
	require.Len(t, ctls, 2)
	assert.Equal(t, ast.CtlRuleEngine, ctls[0].Setting)
	assert.Equal(t, "Off", ctls[0].Value.String())
	assert.Equal(t, ast.CtlRuleRemoveByID, ctls[1].Setting)
}

func TestParseValidateByteRange(t *testing.T) {
	rs := parse(t, `SecRule ARGS "@validateByteRange 32-126,9" "id:1"`)

	r := rs.Statements[0].(*ast.Rule)
	require.Len(t, r.Items[0].Predicate.Val, 1)
	token, ok := r.Items[0].Predicate.Val[0].(ast.ValidateByteRangeToken)
	require.True(t, ok)
	assert.True(t, token.AllowedBytes[32])
	assert.True(t, token.AllowedBytes[126])
	assert.True(t, token.AllowedBytes[9])
	assert.False(t, token.AllowedBytes[8])
	assert.False(t, token.AllowedBytes[127])
}

func TestParseSeverityMnemonic(t *testing.T) {
	rs := parse(t, `SecRule ARGS "@contains x" "id:1,severity:'CRITICAL'"`)

	r := rs.Statements[0].(*ast.Rule)
	var sev *ast.SeverityAction
	for _, a := range r.Items[0].Actions {
		if s, ok := a.(*ast.SeverityAction); ok {
			sev = s
		}
	}
	require.NotNil(t, sev)
	assert.Equal(t, 2, sev.Severity)
}
