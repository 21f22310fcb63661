package parser

import (
	ast "secwaf/secrule/ast"
	"secwaf/waf"

	"fmt"
	"strconv"
	"strings"
)

func errDuplicateDefaultAction(phase int) error {
	return fmt.Errorf("duplicate SecDefaultAction for phase %d", phase)
}

// Directives that existed in legacy rule engines but that this engine deliberately rejects,
// so that a ruleset depending on them fails loudly instead of silently changing meaning.
var unsupportedDirectives = map[string]bool{
	"secstreaminbodyinspection":  true,
	"secstreamoutbodyinspection": true,
	"secruleperftime":            true,
	"sechashengine":              true,
	"sechashkey":                 true,
	"sechashparam":               true,
	"sechashmethodrx":            true,
	"sechashmethodpm":            true,
	"secgsblookupdb":             true,
	"secremoterules":             true,
	"secremoterulesfailaction":   true,
}

// parseConfigDirective handles the scalar configuration directives, plane (a) of the grammar.
// Returns handled=false for statement kinds that the caller deals with.
func (p *parserImpl) parseConfigDirective(rs *ParsedRuleSet, name string, rest string) (handled bool, err error) {
	handled = true

	switch name {

	case "secruleengine":
		arg, _ := nextArg(rest)
		switch strings.ToLower(arg) {
		case "on":
			rs.Config.RuleEngine = waf.RuleEngineOn
		case "off":
			rs.Config.RuleEngine = waf.RuleEngineOff
		case "detectiononly":
			rs.Config.RuleEngine = waf.RuleEngineDetectionOnly
		default:
			return true, fmt.Errorf("invalid SecRuleEngine value: %s", arg)
		}

	case "secrequestbodyaccess":
		rs.Config.RequestBodyAccess, err = parseOnOff(rest)

	case "secresponsebodyaccess":
		rs.Config.ResponseBodyAccess, err = parseOnOff(rest)

	case "secrequestbodylimit":
		rs.Config.RequestBodyLimit, err = parsePositiveInt(rest)

	case "secrequestbodynofileslimit":
		rs.Config.RequestBodyNoFilesLimit, err = parsePositiveInt(rest)

	case "secrequestbodylimitaction":
		rs.Config.RequestBodyLimitAction, err = parseBodyLimitAction(rest)

	case "secresponsebodylimit":
		rs.Config.ResponseBodyLimit, err = parsePositiveInt(rest)

	case "secresponsebodylimitaction":
		rs.Config.ResponseBodyLimitAction, err = parseBodyLimitAction(rest)

	case "secargumentseparator":
		arg, _ := nextArg(rest)
		if len(arg) != 1 {
			return true, fmt.Errorf("SecArgumentSeparator must be a single character")
		}
		rs.Config.ArgumentSeparator = arg[0]

	case "seccomponentsignature":
		arg, _ := nextArg(rest)
		rs.Config.ComponentSignatures = append(rs.Config.ComponentSignatures, arg)

	case "secdebuglog":
		rs.Config.DebugLogPath, _ = nextArg(rest)

	case "secdebugloglevel":
		var n int
		n, err = parsePositiveInt(rest)
		if err == nil && n > 9 {
			err = fmt.Errorf("SecDebugLogLevel must be 0-9")
		}
		rs.Config.DebugLogLevel = n

	case "secauditengine":
		arg, _ := nextArg(rest)
		switch strings.ToLower(arg) {
		case "on":
			rs.Config.AuditEngine = waf.AuditEngineOn
		case "off":
			rs.Config.AuditEngine = waf.AuditEngineOff
		case "relevantonly":
			rs.Config.AuditEngine = waf.AuditEngineRelevantOnly
		default:
			return true, fmt.Errorf("invalid SecAuditEngine value: %s", arg)
		}

	case "secauditlog":
		rs.Config.AuditLogPath, _ = nextArg(rest)

	case "secauditlogparts":
		rs.Config.AuditLogParts, _ = nextArg(rest)

	case "secauditlogrelevantstatus":
		rs.Config.AuditLogRelevantStatus, _ = nextArg(rest)

	case "secgeolookupdb":
		rs.Config.GeoLookupDBPath, _ = nextArg(rest)

	case "secunicodemapfile":
		rs.Config.UnicodeMapFile, _ = nextArg(rest)

	case "secxmlexternalentity":
		rs.Config.XMLExternalEntity, err = parseOnOff(rest)

	case "sectmpdir":
		rs.Config.TmpDir, _ = nextArg(rest)

	case "secuploaddir":
		rs.Config.UploadDir, _ = nextArg(rest)

	case "secwebappid":
		rs.Config.WebAppID, _ = nextArg(rest)

	case "seccollectiontimeout":
		rs.Config.CollectionTimeoutSec, err = parsePositiveInt(rest)

	case "secpcrematchlimit":
		rs.Config.RxMatchLimit, err = parsePositiveInt(rest)

	default:
		return false, nil
	}

	if err == nil {
		rs.ConfigSet[name] = true
	}

	return
}

// parseExceptionDirective handles the rule exception overlay, plane (c) of the grammar.
func (p *parserImpl) parseExceptionDirective(rs *ParsedRuleSet, name string, rest string) (handled bool, err error) {
	handled = true

	switch name {

	case "secruleremovebyid":
		for {
			var arg string
			arg, rest = nextArg(rest)
			if arg == "" {
				break
			}

			var r IDRange
			r, err = parseIDRange(arg)
			if err != nil {
				return
			}
			rs.Exceptions.RemoveByID = append(rs.Exceptions.RemoveByID, r)
		}

	case "secruleremovebytag":
		arg, _ := nextArg(rest)
		if arg == "" {
			return true, fmt.Errorf("missing tag")
		}
		rs.Exceptions.RemoveByTag = append(rs.Exceptions.RemoveByTag, arg)

	case "secruleremovebymsg":
		arg, _ := nextArg(rest)
		if arg == "" {
			return true, fmt.Errorf("missing message")
		}
		rs.Exceptions.RemoveByMsg = append(rs.Exceptions.RemoveByMsg, arg)

	case "secruleupdatetargetbyid", "secruleupdatetargetbytag", "secruleupdatetargetbymsg":
		var selectorArg string
		selectorArg, rest = nextArg(rest)
		if selectorArg == "" {
			return true, fmt.Errorf("missing rule selector")
		}

		var update TargetUpdate
		switch name {
		case "secruleupdatetargetbyid":
			update.ID, err = strconv.Atoi(selectorArg)
			if err != nil {
				return true, fmt.Errorf("invalid rule id: %s", selectorArg)
			}
		case "secruleupdatetargetbytag":
			update.Tag = selectorArg
		case "secruleupdatetargetbymsg":
			update.Msg = selectorArg
		}

		update.Targets, update.ExceptTargets, _, err = parseTargets(rest)
		if err != nil {
			return
		}

		rs.Exceptions.TargetUpdates = append(rs.Exceptions.TargetUpdates, update)

	case "secruleupdateactionbyid":
		var idArg string
		idArg, rest = nextArg(rest)

		var update ActionUpdate
		update.ID, err = strconv.Atoi(idArg)
		if err != nil {
			return true, fmt.Errorf("invalid rule id: %s", idArg)
		}

		var rawActions []ast.RawAction
		rawActions, _, err = parseRawActions(rest)
		if err != nil {
			return
		}

		var pa parsedActions
		pa, err = parseActions(rawActions)
		if err != nil {
			return
		}
		if pa.id != 0 || pa.phase != 0 {
			return true, fmt.Errorf("id and phase cannot be changed by SecRuleUpdateActionById")
		}

		update.Actions = pa.actions
		update.Transformations = pa.transformations
		rs.Exceptions.ActionUpdates = append(rs.Exceptions.ActionUpdates, update)

	default:
		return false, nil
	}

	return
}

func parseOnOff(s string) (bool, error) {
	arg, _ := nextArg(s)
	switch strings.ToLower(arg) {
	case "on":
		return true, nil
	case "off":
		return false, nil
	}
	return false, fmt.Errorf("expected On or Off, got: %s", arg)
}

func parsePositiveInt(s string) (int, error) {
	arg, _ := nextArg(s)
	n, err := strconv.Atoi(arg)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("invalid numeric value: %s", arg)
	}
	return n, nil
}

func parseBodyLimitAction(s string) (waf.BodyLimitAction, error) {
	arg, _ := nextArg(s)
	switch strings.ToLower(arg) {
	case "reject":
		return waf.BodyLimitReject, nil
	case "processpartial":
		return waf.BodyLimitProcessPartial, nil
	}
	return 0, fmt.Errorf("expected Reject or ProcessPartial, got: %s", arg)
}

func parseIDRange(s string) (r IDRange, err error) {
	if pos := strings.Index(s, "-"); pos != -1 {
		r.Start, err = strconv.Atoi(s[:pos])
		if err != nil {
			return r, fmt.Errorf("invalid rule id range: %s", s)
		}
		r.End, err = strconv.Atoi(s[pos+1:])
		if err != nil || r.End < r.Start {
			return r, fmt.Errorf("invalid rule id range: %s", s)
		}
		return
	}

	r.Start, err = strconv.Atoi(s)
	if err != nil {
		return r, fmt.Errorf("invalid rule id: %s", s)
	}
	r.End = r.Start
	return
}

func mergeConfig(dst *waf.EngineConfig, src *waf.EngineConfig, set map[string]bool) {
	for key := range set {
		switch key {
		case "secruleengine":
			dst.RuleEngine = src.RuleEngine
		case "secrequestbodyaccess":
			dst.RequestBodyAccess = src.RequestBodyAccess
		case "secresponsebodyaccess":
			dst.ResponseBodyAccess = src.ResponseBodyAccess
		case "secrequestbodylimit":
			dst.RequestBodyLimit = src.RequestBodyLimit
		case "secrequestbodynofileslimit":
			dst.RequestBodyNoFilesLimit = src.RequestBodyNoFilesLimit
		case "secrequestbodylimitaction":
			dst.RequestBodyLimitAction = src.RequestBodyLimitAction
		case "secresponsebodylimit":
			dst.ResponseBodyLimit = src.ResponseBodyLimit
		case "secresponsebodylimitaction":
			dst.ResponseBodyLimitAction = src.ResponseBodyLimitAction
		case "secargumentseparator":
			dst.ArgumentSeparator = src.ArgumentSeparator
		case "seccomponentsignature":
			dst.ComponentSignatures = append(dst.ComponentSignatures, src.ComponentSignatures...)
		case "secdebuglog":
			dst.DebugLogPath = src.DebugLogPath
		case "secdebugloglevel":
			dst.DebugLogLevel = src.DebugLogLevel
		case "secauditengine":
			dst.AuditEngine = src.AuditEngine
		case "secauditlog":
			dst.AuditLogPath = src.AuditLogPath
		case "secauditlogparts":
			dst.AuditLogParts = src.AuditLogParts
		case "secauditlogrelevantstatus":
			dst.AuditLogRelevantStatus = src.AuditLogRelevantStatus
		case "secgeolookupdb":
			dst.GeoLookupDBPath = src.GeoLookupDBPath
		case "secunicodemapfile":
			dst.UnicodeMapFile = src.UnicodeMapFile
		case "secxmlexternalentity":
			dst.XMLExternalEntity = src.XMLExternalEntity
		case "sectmpdir":
			dst.TmpDir = src.TmpDir
		case "secuploaddir":
			dst.UploadDir = src.UploadDir
		case "secwebappid":
			dst.WebAppID = src.WebAppID
		case "seccollectiontimeout":
			dst.CollectionTimeoutSec = src.CollectionTimeoutSec
		case "secpcrematchlimit":
			dst.RxMatchLimit = src.RxMatchLimit
		}
	}
}
