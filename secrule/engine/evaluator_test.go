package engine

import (
	"secwaf/store"
	"secwaf/testutils"
	"secwaf/waf"

	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type resultsRecorder struct {
	ruleIDs []int
	msgs    []string
	actions []string
}

func (r *resultsRecorder) RuleTriggered(ruleID int, action string, msg string, logData string, ruleSetID waf.RuleSetID) {
	r.ruleIDs = append(r.ruleIDs, ruleID)
	r.msgs = append(r.msgs, msg)
	r.actions = append(r.actions, action)
}

func newTestEngine(t *testing.T, rules string) (*Engine, *resultsRecorder) {
	rec := &resultsRecorder{}
	e, err := LoadString(Options{
		Logger:        testutils.NewTestLogger(t),
		Store:         store.NewMemStore(),
		ResultsLogger: rec,
		RuleSetID:     "test",
	}, rules)
	require.NoError(t, err)
	return e, rec
}

// runRequest drives a whole transaction through all phases with the given request data.
func runRequest(e *Engine, method string, uri string, headers [][2]string, body string) *Transaction {
	tx := NewTransaction(e, "203.0.113.7", 4711, "10.0.0.1", 443)
	tx.ProcessConnection()
	tx.ProcessURI(uri, method, "HTTP/1.1")
	for _, h := range headers {
		tx.AddRequestHeader(h[0], h[1])
	}
	if tx.ProcessRequestHeaders() {
		return tx
	}
	if body != "" {
		tx.AppendRequestBody([]byte(body))
	}
	if tx.ProcessRequestBody() {
		return tx
	}
	tx.SetResponseStatus(200)
	if tx.ProcessResponseHeaders() {
		return tx
	}
	if tx.ProcessResponseBody() {
		return tx
	}
	tx.ProcessLogging()
	return tx
}

type auditRecorder struct {
	records []waf.AuditRecord
}

func (a *auditRecorder) AuditLog(record waf.AuditRecord) {
	a.records = append(a.records, record)
}

func TestAuditRecordRelevantOnly(t *testing.T) {
	// Arrange
	rules := `
SecAuditEngine RelevantOnly
SecRule ARGS "@contains evil" "id:1,phase:2,log,auditlog,deny,status:403,msg:'evil seen'"
`
	rec := &resultsRecorder{}
	audit := &auditRecorder{}
	e, err := LoadString(Options{
		Logger:        testutils.NewTestLogger(t),
		Store:         store.NewMemStore(),
		ResultsLogger: rec,
		AuditLogger:   audit,
	}, rules)
	require.NoError(t, err)

	// Act: a clean transaction produces no audit record.
	tx := NewTransaction(e, "203.0.113.7", 4711, "10.0.0.1", 443)
	tx.ProcessURI("/", "GET", "HTTP/1.1")
	tx.ProcessRequestHeaders()
	tx.ProcessRequestBody()
	tx.ProcessLogging()
	assert.Empty(t, audit.records)

	// A triggering transaction does.
	tx = NewTransaction(e, "203.0.113.7", 4711, "10.0.0.1", 443)
	tx.ProcessURI("/?q=evil", "GET", "HTTP/1.1")
	tx.ProcessRequestHeaders()
	tx.ProcessRequestBody()
	tx.ProcessLogging()

	// Assert
	require.Len(t, audit.records, 1)
	record := audit.records[0]
	assert.True(t, record.Disruptive)
	assert.Equal(t, []int{1}, record.RuleIDs)
	assert.Equal(t, "/?q=evil", record.URI)
	assert.NotEmpty(t, record.TransactionID)
}

func TestDenyOnArgsContains(t *testing.T) {
	// Arrange
	e, _ := newTestEngine(t, `SecRule ARGS "@contains evil" "id:1,phase:2,deny,status:403"`)

	// Act
	tx := runRequest(e, "GET", "/?q=evil", nil, "")

	// Assert
	iv := tx.Intervention()
	require.NotNil(t, iv)
	assert.True(t, iv.Disruptive)
	assert.Equal(t, 403, iv.Status)
	assert.Equal(t, 1, iv.RuleID)
}

func TestNoInterventionOnCleanRequest(t *testing.T) {
	e, _ := newTestEngine(t, `SecRule ARGS "@contains evil" "id:1,phase:2,deny,status:403"`)

	tx := runRequest(e, "GET", "/?q=harmless", nil, "")

	assert.Nil(t, tx.Intervention())
}

func TestTransformationPipelineBeforeMatch(t *testing.T) {
	// Arrange
	e, _ := newTestEngine(t, `SecRule REQUEST_URI "@rx ^/admin" "id:2,phase:1,t:lowercase,t:normalisePath,deny,status:401"`)

	// Act
	tx := runRequest(e, "GET", "/ADMIN/../admin", nil, "")

	// Assert
	iv := tx.Intervention()
	require.NotNil(t, iv)
	assert.Equal(t, 401, iv.Status)
}

func TestDefaultActionInheritance(t *testing.T) {
	// Arrange
	rules := `
SecDefaultAction "phase:2,log,auditlog,deny,status:403"
SecRule ARGS:id "@eq 0" "id:3"
`
	e, _ := newTestEngine(t, rules)

	// Act
	tx := runRequest(e, "GET", "/?id=0", nil, "")

	// Assert
	iv := tx.Intervention()
	require.NotNil(t, iv)
	assert.True(t, iv.Disruptive)
	assert.Equal(t, 403, iv.Status)
	assert.Equal(t, 3, iv.RuleID)
}

func TestChainAllLinksMustMatch(t *testing.T) {
	// Arrange
	rules := `
SecRequestBodyAccess On
SecRule REQUEST_METHOD "@streq POST" "id:4,phase:2,chain,deny,status:403"
SecRule ARGS:token "@streq bad" "t:none"
`
	e, _ := newTestEngine(t, rules)
	formHeaders := [][2]string{{"Content-Type", "application/x-www-form-urlencoded"}}

	// Act and assert: POST with token=bad denies.
	tx := runRequest(e, "POST", "/", formHeaders, "token=bad")
	require.NotNil(t, tx.Intervention())
	assert.Equal(t, 403, tx.Intervention().Status)

	// POST with token=ok does not.
	tx = runRequest(e, "POST", "/", formHeaders, "token=ok")
	assert.Nil(t, tx.Intervention())

	// GET with token=bad does not.
	tx = runRequest(e, "GET", "/?token=bad", nil, "")
	assert.Nil(t, tx.Intervention())
}

func TestSetVarAcrossPhases(t *testing.T) {
	// Arrange
	rules := `
SecAction "id:5,phase:1,nolog,pass,setvar:tx.score=+1"
SecRule TX:score "@gt 0" "id:6,phase:2,log,pass,msg:'score is %{TX.score}'"
`
	e, rec := newTestEngine(t, rules)

	// Act
	tx := runRequest(e, "GET", "/", nil, "")

	// Assert
	assert.Nil(t, tx.Intervention())
	require.Equal(t, []int{6}, rec.ruleIDs) // Rule 5 was nolog
	assert.Equal(t, "score is 1", rec.msgs[0])
}

func TestExclusionVariables(t *testing.T) {
	// Arrange
	e, _ := newTestEngine(t, `SecRule ARGS|!ARGS:safe "@rx attack" "id:7,phase:2,deny,status:403"`)

	// Act and assert: only the non-excluded arg contributes.
	tx := runRequest(e, "GET", "/?safe=attack&bad=attack", nil, "")
	require.NotNil(t, tx.Intervention())

	tx = runRequest(e, "GET", "/?safe=attack", nil, "")
	assert.Nil(t, tx.Intervention())
}

func TestNegatedOperator(t *testing.T) {
	e, _ := newTestEngine(t, `SecRule REQUEST_METHOD "!@streq GET" "id:8,phase:1,deny,status:405"`)

	tx := runRequest(e, "DELETE", "/", nil, "")
	require.NotNil(t, tx.Intervention())
	assert.Equal(t, 405, tx.Intervention().Status)

	tx = runRequest(e, "GET", "/", nil, "")
	assert.Nil(t, tx.Intervention())
}

func TestSkipAfterMarker(t *testing.T) {
	// Arrange
	rules := `
SecAction "id:10,phase:2,nolog,pass,skipAfter:END_CHECKS"
SecRule ARGS "@contains evil" "id:11,phase:2,deny,status:403"
SecMarker END_CHECKS
SecRule ARGS "@contains evil" "id:12,phase:2,log,pass,msg:'after marker'"
`
	e, rec := newTestEngine(t, rules)

	// Act
	tx := runRequest(e, "GET", "/?q=evil", nil, "")

	// Assert: rule 11 was skipped, rule 12 still ran.
	assert.Nil(t, tx.Intervention())
	assert.Equal(t, []int{12}, rec.ruleIDs)
}

func TestSkipAfterRuleID(t *testing.T) {
	// Arrange: the skipAfter label can also be a rule id; the cursor lands after that rule.
	rules := `
SecAction "id:10,phase:2,nolog,pass,skipAfter:11"
SecRule ARGS "@contains evil" "id:11,phase:2,deny,status:403"
SecRule ARGS "@contains evil" "id:12,phase:2,log,pass"
`
	e, rec := newTestEngine(t, rules)

	// Act
	tx := runRequest(e, "GET", "/?q=evil", nil, "")

	// Assert
	assert.Nil(t, tx.Intervention())
	assert.Equal(t, []int{12}, rec.ruleIDs)
}

func TestSkipCount(t *testing.T) {
	// Arrange
	rules := `
SecAction "id:10,phase:2,nolog,pass,skip:1"
SecRule ARGS "@contains evil" "id:11,phase:2,deny,status:403"
SecRule ARGS "@contains evil" "id:12,phase:2,log,pass"
`
	e, rec := newTestEngine(t, rules)

	// Act
	tx := runRequest(e, "GET", "/?q=evil", nil, "")

	// Assert
	assert.Nil(t, tx.Intervention())
	assert.Equal(t, []int{12}, rec.ruleIDs)
}

func TestCaptureBindsTxVars(t *testing.T) {
	// Arrange
	rules := `
SecRule ARGS:user "@rx ^admin-(\d+)$" "id:20,phase:2,capture,chain,deny,status:403"
SecRule TX:1 "@eq 42" "t:none"
`
	e, _ := newTestEngine(t, rules)

	// Act and assert
	tx := runRequest(e, "GET", "/?user=admin-42", nil, "")
	require.NotNil(t, tx.Intervention())

	tx = runRequest(e, "GET", "/?user=admin-7", nil, "")
	assert.Nil(t, tx.Intervention())
}

func TestCaptureClearsStaleTxVars(t *testing.T) {
	// Arrange: the second capture has fewer groups; TX:2 from a previous rule must not leak in.
	rules := `
SecRule ARGS:a "@rx (x)(y)" "id:21,phase:2,capture,nolog,pass"
SecRule ARGS:b "@rx (z)" "id:22,phase:2,capture,chain,log,pass,msg:'tx2 leaked'"
SecRule TX:2 "@streq y" "t:none"
`
	e, rec := newTestEngine(t, rules)

	// Act
	tx := runRequest(e, "GET", "/?a=xy&b=z", nil, "")

	// Assert
	assert.Nil(t, tx.Intervention())
	assert.Empty(t, rec.ruleIDs)
}

func TestDetectionOnlyRecordsButDoesNotDisrupt(t *testing.T) {
	// Arrange
	rules := `
SecRuleEngine DetectionOnly
SecRule ARGS "@contains evil" "id:30,phase:2,deny,status:403"
`
	e, rec := newTestEngine(t, rules)

	// Act
	tx := runRequest(e, "GET", "/?q=evil", nil, "")

	// Assert: the rule was logged, but nothing disruptive surfaced.
	assert.Nil(t, tx.Intervention())
	assert.Equal(t, []int{30}, rec.ruleIDs)
}

func TestRuleEngineOff(t *testing.T) {
	rules := `
SecRuleEngine Off
SecRule ARGS "@contains evil" "id:31,phase:2,deny,status:403"
`
	e, rec := newTestEngine(t, rules)

	tx := runRequest(e, "GET", "/?q=evil", nil, "")

	assert.Nil(t, tx.Intervention())
	assert.Empty(t, rec.ruleIDs)
}

func TestCtlRuleRemoveById(t *testing.T) {
	// Arrange
	rules := `
SecAction "id:40,phase:1,nolog,pass,ctl:ruleRemoveById=41"
SecRule ARGS "@contains evil" "id:41,phase:2,deny,status:403"
`
	e, _ := newTestEngine(t, rules)

	// Act
	tx := runRequest(e, "GET", "/?q=evil", nil, "")

	// Assert
	assert.Nil(t, tx.Intervention())
}

func TestCtlRuleEngineOff(t *testing.T) {
	rules := `
SecAction "id:42,phase:1,nolog,pass,ctl:ruleEngine=Off"
SecRule ARGS "@contains evil" "id:43,phase:2,deny,status:403"
`
	e, _ := newTestEngine(t, rules)

	tx := runRequest(e, "GET", "/?q=evil", nil, "")

	assert.Nil(t, tx.Intervention())
}

func TestRedirectIntervention(t *testing.T) {
	// Arrange
	e, _ := newTestEngine(t, `SecRule ARGS "@contains evil" "id:50,phase:2,redirect:https://blocked.example.com/denied"`)

	// Act
	tx := runRequest(e, "GET", "/?q=evil", nil, "")

	// Assert
	iv := tx.Intervention()
	require.NotNil(t, iv)
	assert.Equal(t, waf.Redirect, iv.Action)
	assert.Equal(t, 302, iv.Status)
	assert.Equal(t, "https://blocked.example.com/denied", iv.URL)
}

func TestAllowStopsPhaseWithoutDisrupting(t *testing.T) {
	// Arrange
	rules := `
SecRule REQUEST_URI "@beginsWith /health" "id:60,phase:1,nolog,allow"
SecRule ARGS "@contains evil" "id:61,phase:2,deny,status:403"
`
	e, _ := newTestEngine(t, rules)

	// Act
	tx := NewTransaction(e, "203.0.113.7", 4711, "10.0.0.1", 443)
	tx.ProcessURI("/health?q=evil", "GET", "HTTP/1.1")
	pending := tx.ProcessRequestHeaders()

	// Assert
	assert.False(t, pending)
	iv := tx.Intervention()
	require.NotNil(t, iv)
	assert.Equal(t, waf.Allow, iv.Action)
	assert.False(t, iv.Disruptive)
}

func TestPhase5CannotDisrupt(t *testing.T) {
	e, rec := newTestEngine(t, `SecRule ARGS "@contains evil" "id:70,phase:5,log,deny,status:403"`)

	tx := runRequest(e, "GET", "/?q=evil", nil, "")

	assert.Nil(t, tx.Intervention())
	assert.Equal(t, []int{70}, rec.ruleIDs)
}

func TestMultiMatchRunsOperatorPerTransformationStep(t *testing.T) {
	// Arrange: the arg arrives double-encoded, so the operator value only exists after
	// urlDecode but before removeWhitespace.
	rules := `
SecRule ARGS:q "@streq a b" "id:80,phase:2,t:urlDecode,t:removeWhitespace,multiMatch,deny,status:403"
`
	e, _ := newTestEngine(t, rules)

	// Act and assert
	tx := runRequest(e, "GET", "/?q=a%2520b", nil, "")
	require.NotNil(t, tx.Intervention())

	// Without multiMatch only the final value "ab" is evaluated, and it does not match.
	e2, _ := newTestEngine(t, `SecRule ARGS:q "@streq a b" "id:81,phase:2,t:urlDecode,t:removeWhitespace,deny,status:403"`)
	tx = runRequest(e2, "GET", "/?q=a%2520b", nil, "")
	assert.Nil(t, tx.Intervention())
}

func TestRegexSelector(t *testing.T) {
	e, _ := newTestEngine(t, `SecRule ARGS:/^user_/ "@contains evil" "id:90,phase:2,deny,status:403"`)

	tx := runRequest(e, "GET", "/?user_name=evil", nil, "")
	require.NotNil(t, tx.Intervention())

	tx = runRequest(e, "GET", "/?other=evil", nil, "")
	assert.Nil(t, tx.Intervention())
}

func TestCountSelector(t *testing.T) {
	e, _ := newTestEngine(t, `SecRule &ARGS "@gt 2" "id:91,phase:2,deny,status:403"`)

	tx := runRequest(e, "GET", "/?a=1&b=2&c=3", nil, "")
	require.NotNil(t, tx.Intervention())

	tx = runRequest(e, "GET", "/?a=1&b=2", nil, "")
	assert.Nil(t, tx.Intervention())
}

func TestMatchedVarBindings(t *testing.T) {
	// Arrange
	rules := `
SecRule ARGS "@contains evil" "id:92,phase:2,chain,deny,status:403"
SecRule MATCHED_VAR_NAME "@endsWith :payload" "t:none"
`
	e, _ := newTestEngine(t, rules)

	// Act and assert
	tx := runRequest(e, "GET", "/?payload=evil", nil, "")
	require.NotNil(t, tx.Intervention())

	tx = runRequest(e, "GET", "/?other=evil", nil, "")
	assert.Nil(t, tx.Intervention())
}

func TestPersistentCollectionAcrossTransactions(t *testing.T) {
	// Arrange
	rules := `
SecAction "id:95,phase:1,nolog,pass,initcol:ip=%{REMOTE_ADDR},setvar:ip.hits=+1"
SecRule IP:hits "@ge 3" "id:96,phase:1,deny,status:429"
`
	e, _ := newTestEngine(t, rules)

	// Act: two clean transactions, the third crosses the threshold.
	tx := runRequest(e, "GET", "/", nil, "")
	assert.Nil(t, tx.Intervention())
	tx = runRequest(e, "GET", "/", nil, "")
	assert.Nil(t, tx.Intervention())
	tx = runRequest(e, "GET", "/", nil, "")

	// Assert
	iv := tx.Intervention()
	require.NotNil(t, iv)
	assert.Equal(t, 429, iv.Status)
}

func TestRequestHeaderTargets(t *testing.T) {
	// Arrange: header key matching is case-insensitive.
	e, _ := newTestEngine(t, `SecRule REQUEST_HEADERS:User-Agent "@contains badbot" "id:97,phase:1,deny,status:403"`)

	// Act and assert
	tx := runRequest(e, "GET", "/", [][2]string{{"user-agent", "badbot/1.0"}}, "")
	require.NotNil(t, tx.Intervention())

	tx = runRequest(e, "GET", "/", [][2]string{{"User-Agent", "goodbot/1.0"}}, "")
	assert.Nil(t, tx.Intervention())
}

func TestRequestCookies(t *testing.T) {
	e, _ := newTestEngine(t, `SecRule REQUEST_COOKIES:session "@streq hijacked" "id:98,phase:1,deny,status:403"`)

	tx := runRequest(e, "GET", "/", [][2]string{{"Cookie", "session=hijacked; theme=dark"}}, "")
	require.NotNil(t, tx.Intervention())
}

func TestJSONBodyProcessor(t *testing.T) {
	// Arrange
	rules := `
SecRequestBodyAccess On
SecRule ARGS_POST:json.user.name "@streq evil" "id:99,phase:2,deny,status:403"
`
	e, _ := newTestEngine(t, rules)

	// Act
	tx := runRequest(e, "POST", "/", [][2]string{{"Content-Type", "application/json"}}, `{"user":{"name":"evil"}}`)

	// Assert
	require.NotNil(t, tx.Intervention())
}

func TestRequestBodyLimitReject(t *testing.T) {
	// Arrange
	rules := `
SecRequestBodyAccess On
SecRequestBodyLimit 10
SecRequestBodyLimitAction Reject
`
	e, _ := newTestEngine(t, rules)

	// Act
	tx := NewTransaction(e, "203.0.113.7", 4711, "10.0.0.1", 443)
	tx.ProcessURI("/", "POST", "HTTP/1.1")
	tx.ProcessRequestHeaders()
	pending := tx.AppendRequestBody([]byte("this is more than ten bytes"))

	// Assert
	assert.True(t, pending)
	require.NotNil(t, tx.Intervention())
	assert.Equal(t, 413, tx.Intervention().Status)
}
