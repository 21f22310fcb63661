package ast

// Statement is a SecRule-lang statement, such as SecRule, SecAction, SecMarker, etc.
type Statement interface{}

// ActionStmt represents a SecAction in the SecRule-lang.
type ActionStmt struct {
	ID              int
	Phase           int
	Actions         []Action
	Transformations []Transformation
	Tags            []string
	Msg             Value
}

// ScriptStmt represents a SecRuleScript in the SecRule-lang. The script itself is an external hook.
type ScriptStmt struct {
	ID      int
	Phase   int
	Path    string
	Actions []Action
}

// Rule is one or more SecRule statements in the SecRule-lang. Multiple SecRules if they are chained.
type Rule struct {
	ID    int
	Phase int
	Items []RuleItem

	// Tags and Msg duplicate the head item's meta actions for exception overlay lookups.
	Tags []string
	Msg  Value
}

// RuleItem is a single SecRule statement, which might be part of a chain.
type RuleItem struct {
	Predicate       RulePredicate
	Actions         []Action
	Transformations []Transformation
	PmPhrases       []string
}

// RulePredicate determines whether a rule item is triggered.
type RulePredicate struct {
	Targets       []Target
	ExceptTargets []Target // ExceptTargets are the targets that are exempt/excluded from being matched.
	Op            Operator
	Neg           bool
	Val           Value
}

// Marker is a SecMarker, used by skipAfter-actions.
type Marker struct {
	Label string
}

// Target describes which field of the transaction we want to be scanning.
type Target struct {
	Name            TargetName // Example value: TargetArgs if SecRule said ARGS
	Selector        string     // Example value: streetAddress
	IsRegexSelector bool       // Example of target where this is true: ARGS:/hel*o/
	IsCount         bool       // Example of target where this is true, meaning number of args: &ARGS
	SelectorMacro   Value      // Set for dynamic selectors such as TX:%{RULE.id}
}

// TargetName describes in which part of the transaction or environment we are to scan.
type TargetName int

// Targets that SecRules can use.
// Ensure this is in sync with TargetNamesFromStr and TargetNamesStrings.
const (
	_ TargetName = iota
	TargetArgs
	TargetArgsCombinedSize
	TargetArgsGet
	TargetArgsGetNames
	TargetArgsNames
	TargetArgsPost
	TargetArgsPostNames
	TargetDuration
	TargetEnv
	TargetFiles
	TargetFilesCombinedSize
	TargetFilesNames
	TargetGeo
	TargetGlobal
	TargetIP
	TargetMatchedVar
	TargetMatchedVarName
	TargetMatchedVars
	TargetMatchedVarsNames
	TargetQueryString
	TargetRemoteAddr
	TargetRemotePort
	TargetReqbodyError
	TargetReqbodyProcessor
	TargetRequestBasename
	TargetRequestBody
	TargetRequestCookies
	TargetRequestCookiesNames
	TargetRequestFilename
	TargetRequestHeaders
	TargetRequestHeadersNames
	TargetRequestLine
	TargetRequestMethod
	TargetRequestProtocol
	TargetRequestURI
	TargetRequestURIRaw
	TargetResource
	TargetResponseBody
	TargetResponseContentLength
	TargetResponseContentType
	TargetResponseHeaders
	TargetResponseHeadersNames
	TargetResponseProtocol
	TargetResponseStatus
	TargetRule
	TargetServerAddr
	TargetServerPort
	TargetSession
	TargetTime
	TargetTimeDay
	TargetTimeEpoch
	TargetTimeHour
	TargetTimeMin
	TargetTimeMon
	TargetTimeSec
	TargetTimeWday
	TargetTimeYear
	TargetTx
	TargetUniqueID
	TargetUser
	TargetWebAppID
	TargetXML
	_lastTarget
)

// TargetNamesFromStr gets TargetName enums from strings. Ensure this is in sync with TargetNamesStrings and the TargetName const iota block.
var TargetNamesFromStr = map[string]TargetName{
	"ARGS":                    TargetArgs,
	"ARGS_COMBINED_SIZE":      TargetArgsCombinedSize,
	"ARGS_GET":                TargetArgsGet,
	"ARGS_GET_NAMES":          TargetArgsGetNames,
	"ARGS_NAMES":              TargetArgsNames,
	"ARGS_POST":               TargetArgsPost,
	"ARGS_POST_NAMES":         TargetArgsPostNames,
	"DURATION":                TargetDuration,
	"ENV":                     TargetEnv,
	"FILES":                   TargetFiles,
	"FILES_COMBINED_SIZE":     TargetFilesCombinedSize,
	"FILES_NAMES":             TargetFilesNames,
	"GEO":                     TargetGeo,
	"GLOBAL":                  TargetGlobal,
	"IP":                      TargetIP,
	"MATCHED_VAR":             TargetMatchedVar,
	"MATCHED_VAR_NAME":        TargetMatchedVarName,
	"MATCHED_VARS":            TargetMatchedVars,
	"MATCHED_VARS_NAMES":      TargetMatchedVarsNames,
	"QUERY_STRING":            TargetQueryString,
	"REMOTE_ADDR":             TargetRemoteAddr,
	"REMOTE_PORT":             TargetRemotePort,
	"REQBODY_ERROR":           TargetReqbodyError,
	"REQBODY_PROCESSOR":       TargetReqbodyProcessor,
	"REQUEST_BASENAME":        TargetRequestBasename,
	"REQUEST_BODY":            TargetRequestBody,
	"REQUEST_COOKIES":         TargetRequestCookies,
	"REQUEST_COOKIES_NAMES":   TargetRequestCookiesNames,
	"REQUEST_FILENAME":        TargetRequestFilename,
	"REQUEST_HEADERS":         TargetRequestHeaders,
	"REQUEST_HEADERS_NAMES":   TargetRequestHeadersNames,
	"REQUEST_LINE":            TargetRequestLine,
	"REQUEST_METHOD":          TargetRequestMethod,
	"REQUEST_PROTOCOL":        TargetRequestProtocol,
	"REQUEST_URI":             TargetRequestURI,
	"REQUEST_URI_RAW":         TargetRequestURIRaw,
	"RESOURCE":                TargetResource,
	"RESPONSE_BODY":           TargetResponseBody,
	"RESPONSE_CONTENT_LENGTH": TargetResponseContentLength,
	"RESPONSE_CONTENT_TYPE":   TargetResponseContentType,
	"RESPONSE_HEADERS":        TargetResponseHeaders,
	"RESPONSE_HEADERS_NAMES":  TargetResponseHeadersNames,
	"RESPONSE_PROTOCOL":       TargetResponseProtocol,
	"RESPONSE_STATUS":         TargetResponseStatus,
	"RULE":                    TargetRule,
	"SERVER_ADDR":             TargetServerAddr,
	"SERVER_PORT":             TargetServerPort,
	"SESSION":                 TargetSession,
	"TIME":                    TargetTime,
	"TIME_DAY":                TargetTimeDay,
	"TIME_EPOCH":              TargetTimeEpoch,
	"TIME_HOUR":               TargetTimeHour,
	"TIME_MIN":                TargetTimeMin,
	"TIME_MON":                TargetTimeMon,
	"TIME_SEC":                TargetTimeSec,
	"TIME_WDAY":               TargetTimeWday,
	"TIME_YEAR":               TargetTimeYear,
	"TX":                      TargetTx,
	"UNIQUE_ID":               TargetUniqueID,
	"USER":                    TargetUser,
	"WEBAPPID":                TargetWebAppID,
	"XML":                     TargetXML,
}

// TargetNamesStrings gets strings from TargetName enums. Filled from TargetNamesFromStr at init.
var TargetNamesStrings = map[TargetName]string{}

func init() {
	for s, t := range TargetNamesFromStr {
		TargetNamesStrings[t] = s
	}
}

// IsPersistentCollection says whether a target is backed by the persistent store rather than the transaction.
func (t TargetName) IsPersistentCollection() bool {
	switch t {
	case TargetIP, TargetSession, TargetUser, TargetGlobal, TargetResource:
		return true
	}
	return false
}

// Operator that the SecRule will use to evaluate the input against the value.
type Operator int

// Operators that SecRules can use.
const (
	_ Operator = iota
	BeginsWith
	Contains
	ContainsWord
	DetectSQLi
	DetectXSS
	EndsWith
	Eq
	Ge
	GeoLookupOp
	Gt
	IPMatch
	IPMatchFromFile
	Le
	Lt
	NoMatch
	Pm
	Pmf
	PmFromFile
	Rbl
	Rx
	Streq
	Strmatch
	UnconditionalMatch
	ValidateByteRange
	ValidateURLEncoding
	ValidateUtf8Encoding
	VerifyCC
	VerifyCPF
	VerifySSN
	VerifySVNR
	Within
)

// Transformation is what will be applied to the input before it is evaluated against the operator/value of the rule.
type Transformation int

// Transformations that SecRules can use.
const (
	_ Transformation = iota
	Base64Decode
	Base64DecodeExt
	Base64Encode
	CmdLine
	CompressWhitespace
	CSSDecode
	EscapeSeqDecode
	HexDecode
	HexEncode
	HTMLEntityDecode
	JsDecode
	Length
	Lowercase
	MD5
	None
	NormalisePath
	NormalisePathWin
	RemoveComments
	RemoveCommentsChar
	RemoveNulls
	RemoveWhitespace
	ReplaceComments
	ReplaceNulls
	Sha1
	Trim
	TrimLeft
	TrimRight
	Uppercase
	URLDecode
	URLDecodeUni
	URLEncode
	Utf8toUnicode
)

// TransformationsFromStr gets Transformation enums from the lowercase t:-action names.
var TransformationsFromStr = map[string]Transformation{
	"base64decode":       Base64Decode,
	"base64decodeext":    Base64DecodeExt,
	"base64encode":       Base64Encode,
	"cmdline":            CmdLine,
	"compresswhitespace": CompressWhitespace,
	"cssdecode":          CSSDecode,
	"escapeseqdecode":    EscapeSeqDecode,
	"hexdecode":          HexDecode,
	"hexencode":          HexEncode,
	"htmlentitydecode":   HTMLEntityDecode,
	"jsdecode":           JsDecode,
	"length":             Length,
	"lowercase":          Lowercase,
	"md5":                MD5,
	"none":               None,
	"normalisepath":      NormalisePath,
	"normalisepathwin":   NormalisePathWin,
	"normalizepath":      NormalisePath,
	"normalizepathwin":   NormalisePathWin,
	"removecomments":     RemoveComments,
	"removecommentschar": RemoveCommentsChar,
	"removenulls":        RemoveNulls,
	"removewhitespace":   RemoveWhitespace,
	"replacecomments":    ReplaceComments,
	"replacenulls":       ReplaceNulls,
	"sha1":               Sha1,
	"trim":               Trim,
	"trimleft":           TrimLeft,
	"trimright":          TrimRight,
	"uppercase":          Uppercase,
	"urldecode":          URLDecode,
	"urldecodeuni":       URLDecodeUni,
	"urlencode":          URLEncode,
	"utf8tounicode":      Utf8toUnicode,
}
