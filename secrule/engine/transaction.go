package engine

import (
	ast "secwaf/secrule/ast"
	"secwaf/waf"

	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

type nameValuePair struct {
	Name  string
	Value string
}

// Transaction is the per-request evaluation state. It is created by the connector, mutated
// only during phase processing, and must not be shared between goroutines.
type Transaction struct {
	engine *Engine
	logger zerolog.Logger

	id        string
	startTime time.Time

	clientIP   string
	clientPort int
	serverIP   string
	serverPort int

	method      string
	uriRaw      string
	uriPath     string
	queryString string
	protocol    string

	requestHeaders  []nameValuePair
	cookies         []nameValuePair
	argsGet         []nameValuePair
	argsPost        []nameValuePair
	requestBody     []byte
	reqbodyError    string
	responseHeaders []nameValuePair
	responseStatus  int
	responseBody    []byte

	envMap map[string]string

	// Per-transaction overrides set by ctl-actions.
	ruleEngineOverride  waf.RuleEngineMode
	requestBodyAccess   bool
	bodyProcessor       waf.BodyProcessor
	forceRequestBodyVar bool
	auditEngineOverride waf.AuditEngineMode
	auditLogParts       string
	removedRules        map[int]bool
	removedTags         map[string]bool
	removedTargetsByID  map[int][]ast.Target
	removedTargetsByTag map[string][]ast.Target
	auditRelevant       bool

	env   *environment
	cache *txCache

	phase            int
	intervention     *waf.Intervention
	allowed          bool
	logEntries       []string
	triggeredRuleIDs []int
}

// NewTransaction starts a transaction against the engine for one request.
func NewTransaction(e *Engine, clientIP string, clientPort int, serverIP string, serverPort int) *Transaction {
	id := uuid.NewString()

	t := &Transaction{
		engine:     e,
		logger:     e.logger.With().Str("txid", id).Logger(),
		id:         id,
		startTime:  time.Now(),
		clientIP:   clientIP,
		clientPort: clientPort,
		serverIP:   serverIP,
		serverPort: serverPort,

		envMap:              make(map[string]string),
		requestBodyAccess:   e.config.RequestBodyAccess,
		removedRules:        make(map[int]bool),
		removedTags:         make(map[string]bool),
		removedTargetsByID:  make(map[int][]ast.Target),
		removedTargetsByTag: make(map[string][]ast.Target),
		cache:               newTxCache(),
	}
	t.env = newEnvironment(t)

	return t
}

// ID returns the transaction's unique id, exposed to rules as UNIQUE_ID.
func (t *Transaction) ID() string {
	return t.id
}

// ProcessConnection accepts the connection data given at creation. Rules first run at the
// request header phase.
func (t *Transaction) ProcessConnection() bool {
	return t.interventionPending()
}

// ProcessURI sets the request line before the request header phase runs.
func (t *Transaction) ProcessURI(uri string, method string, protocol string) {
	t.method = method
	t.uriRaw = uri
	t.protocol = protocol

	t.uriPath = uri
	if pos := strings.IndexByte(uri, '?'); pos != -1 {
		t.uriPath = uri[:pos]
		t.queryString = uri[pos+1:]
		t.argsGet = parseQuery(t.queryString, t.engine.config.ArgumentSeparator)
	}
}

// AddRequestHeader adds one request header. Cookie headers are parsed into REQUEST_COOKIES.
func (t *Transaction) AddRequestHeader(name string, value string) {
	t.requestHeaders = append(t.requestHeaders, nameValuePair{Name: name, Value: value})

	if strings.EqualFold(name, "cookie") {
		t.cookies = append(t.cookies, parseCookies(value)...)
	}

	if strings.EqualFold(name, "content-type") {
		ct := strings.ToLower(value)
		switch {
		case strings.Contains(ct, "json"):
			t.bodyProcessor = waf.BodyProcessorJSON
		case strings.Contains(ct, "xml"):
			t.bodyProcessor = waf.BodyProcessorXML
		}
	}
}

// ProcessRequestHeaders runs phase 1.
func (t *Transaction) ProcessRequestHeaders() bool {
	return t.processPhase(1)
}

// AppendRequestBody adds request body bytes, honoring the configured body limit.
func (t *Transaction) AppendRequestBody(bb []byte) bool {
	if !t.requestBodyAccess {
		return t.interventionPending()
	}

	limit := t.engine.config.RequestBodyLimit
	if len(t.requestBody)+len(bb) > limit {
		if t.engine.config.RequestBodyLimitAction == waf.BodyLimitReject {
			t.reqbodyError = "request body limit exceeded"
			t.recordIntervention(&waf.Intervention{
				Status:     413,
				Disruptive: true,
				Action:     waf.Block,
				Log:        []string{"Request body length exceeded the limit"},
			})
			return true
		}

		// ProcessPartial: truncate to the limit and continue.
		bb = bb[:limit-len(t.requestBody)]
	}

	t.requestBody = append(t.requestBody, bb...)
	return t.interventionPending()
}

// ProcessRequestBody parses the body per the selected body processor and runs phase 2.
func (t *Transaction) ProcessRequestBody() bool {
	if t.requestBodyAccess || t.forceRequestBodyVar {
		switch t.bodyProcessor {
		case waf.BodyProcessorJSON:
			args, err := parseJSONBody(t.requestBody)
			if err != nil {
				t.reqbodyError = err.Error()
				t.logger.Debug().Err(err).Msg("Request body JSON parse error")
			} else {
				t.argsPost = append(t.argsPost, args...)
			}
		case waf.BodyProcessorXML:
			// The raw body stays available as REQUEST_BODY. XPath selection is out of scope.
		default:
			t.argsPost = append(t.argsPost, parseQuery(string(t.requestBody), '&')...)
		}
	}

	return t.processPhase(2)
}

// AddResponseHeader adds one response header.
func (t *Transaction) AddResponseHeader(name string, value string) {
	t.responseHeaders = append(t.responseHeaders, nameValuePair{Name: name, Value: value})
}

// SetResponseStatus sets the status code observed on the response.
func (t *Transaction) SetResponseStatus(status int) {
	t.responseStatus = status
}

// ProcessResponseHeaders runs phase 3.
func (t *Transaction) ProcessResponseHeaders() bool {
	return t.processPhase(3)
}

// AppendResponseBody adds response body bytes, honoring the configured body limit.
func (t *Transaction) AppendResponseBody(bb []byte) bool {
	if !t.engine.config.ResponseBodyAccess {
		return t.interventionPending()
	}

	limit := t.engine.config.ResponseBodyLimit
	if len(t.responseBody)+len(bb) > limit {
		if t.engine.config.ResponseBodyLimitAction == waf.BodyLimitReject {
			t.recordIntervention(&waf.Intervention{
				Status:     500,
				Disruptive: true,
				Action:     waf.Block,
				Log:        []string{"Response body length exceeded the limit"},
			})
			return true
		}

		bb = bb[:limit-len(t.responseBody)]
	}

	t.responseBody = append(t.responseBody, bb...)
	return t.interventionPending()
}

// ProcessResponseBody runs phase 4.
func (t *Transaction) ProcessResponseBody() bool {
	return t.processPhase(4)
}

// ProcessLogging runs phase 5, writes back the persistent collections, and hands the
// audit record to the host. Phase 5 rules can never disrupt.
func (t *Transaction) ProcessLogging() bool {
	t.processPhase(5)
	t.env.persistCollections()
	t.writeAuditRecord()
	return t.interventionPending()
}

// writeAuditRecord emits the structured audit entry per the SecAuditEngine mode.
func (t *Transaction) writeAuditRecord() {
	if t.engine.audit == nil {
		return
	}

	switch t.auditEngineMode() {
	case waf.AuditEngineOff:
		return
	case waf.AuditEngineRelevantOnly:
		if !t.auditRelevant && !t.statusIsAuditRelevant() {
			return
		}
	}

	parts := t.auditLogParts
	if parts == "" {
		parts = t.engine.config.AuditLogParts
	}

	record := waf.AuditRecord{
		TransactionID: t.id,
		ClientIP:      t.clientIP,
		Method:        t.method,
		URI:           t.uriRaw,
		Status:        t.responseStatus,
		RuleIDs:       t.triggeredRuleIDs,
		Messages:      t.logEntries,
		Parts:         parts,
	}
	if t.intervention != nil {
		record.Disruptive = t.intervention.Disruptive
	}

	t.engine.audit.AuditLog(record)
}

func (t *Transaction) statusIsAuditRelevant() bool {
	pattern := t.engine.config.AuditLogRelevantStatus
	if pattern == "" || t.responseStatus == 0 {
		return false
	}

	rx, err := regexp.Compile(pattern)
	if err != nil {
		t.logger.Warn().Err(err).Msg("Invalid SecAuditLogRelevantStatus pattern")
		return false
	}

	return rx.MatchString(strconv.Itoa(t.responseStatus))
}

// Intervention returns the pending intervention, if any.
func (t *Transaction) Intervention() *waf.Intervention {
	return t.intervention
}

// SetEnv sets an entry of the transaction environment map, exposed to rules as ENV.
func (t *Transaction) SetEnv(name string, value string) {
	t.envMap[strings.ToLower(name)] = value
}

func (t *Transaction) interventionPending() bool {
	return t.intervention != nil && t.intervention.Disruptive
}

func (t *Transaction) recordIntervention(iv *waf.Intervention) {
	if t.ruleEngineMode() == waf.RuleEngineDetectionOnly && iv.Disruptive {
		// Detection only: keep the record for logging, but never return it as disruptive.
		iv.Disruptive = false
		t.logEntries = append(t.logEntries, iv.Log...)
		t.logger.Info().Int("ruleID", iv.RuleID).Msg("Rule would have disrupted the transaction (detection only)")
		return
	}

	t.intervention = iv
}

func (t *Transaction) ruleEngineMode() waf.RuleEngineMode {
	if t.ruleEngineOverride != 0 {
		return t.ruleEngineOverride
	}
	return t.engine.config.RuleEngine
}

func (t *Transaction) auditEngineMode() waf.AuditEngineMode {
	if t.auditEngineOverride != 0 {
		return t.auditEngineOverride
	}
	return t.engine.config.AuditEngine
}

// parseQuery splits a query string or urlencoded body into ordered name/value pairs.
// Names and values are percent-decoded.
func parseQuery(s string, separator byte) []nameValuePair {
	if s == "" {
		return nil
	}

	var args []nameValuePair
	for _, pair := range strings.Split(s, string([]byte{separator})) {
		if pair == "" {
			continue
		}

		var name, value string
		if pos := strings.IndexByte(pair, '='); pos != -1 {
			name, value = pair[:pos], pair[pos+1:]
		} else {
			name = pair
		}

		args = append(args, nameValuePair{
			Name:  urlUnescape(name),
			Value: urlUnescape(value),
		})
	}

	return args
}

func parseCookies(header string) []nameValuePair {
	var cookies []nameValuePair
	for _, part := range strings.Split(header, ";") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}

		var name, value string
		if pos := strings.IndexByte(part, '='); pos != -1 {
			name, value = part[:pos], part[pos+1:]
		} else {
			name = part
		}

		cookies = append(cookies, nameValuePair{Name: name, Value: value})
	}

	return cookies
}
