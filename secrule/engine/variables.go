package engine

import (
	ast "secwaf/secrule/ast"
	"secwaf/waf"

	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"
)

// variableValue is one resolved value of a variable selector: the collection it came from,
// the origin key within the collection, and the bytes.
type variableValue struct {
	Name ast.TargetName
	Key  string
	Data []byte
}

// lookupScalar resolves the single-valued transaction attributes.
func (t *Transaction) lookupScalar(name ast.TargetName) (string, bool) {
	now := time.Now()

	switch name {
	case ast.TargetRequestMethod:
		return t.method, true
	case ast.TargetRequestURI:
		return urlUnescape(t.uriRaw), true
	case ast.TargetRequestURIRaw:
		return t.uriRaw, true
	case ast.TargetRequestFilename:
		return urlUnescape(t.uriPath), true
	case ast.TargetRequestBasename:
		p := urlUnescape(t.uriPath)
		return p[strings.LastIndexByte(p, '/')+1:], true
	case ast.TargetRequestLine:
		return t.method + " " + t.uriRaw + " " + t.protocol, true
	case ast.TargetRequestProtocol:
		return t.protocol, true
	case ast.TargetQueryString:
		return t.queryString, true
	case ast.TargetRemoteAddr:
		return t.clientIP, true
	case ast.TargetRemotePort:
		return strconv.Itoa(t.clientPort), true
	case ast.TargetServerAddr:
		return t.serverIP, true
	case ast.TargetServerPort:
		return strconv.Itoa(t.serverPort), true
	case ast.TargetRequestBody:
		return string(t.requestBody), true
	case ast.TargetResponseBody:
		return string(t.responseBody), true
	case ast.TargetResponseStatus:
		return strconv.Itoa(t.responseStatus), true
	case ast.TargetResponseProtocol:
		return t.protocol, true
	case ast.TargetResponseContentLength:
		return strconv.Itoa(len(t.responseBody)), true
	case ast.TargetResponseContentType:
		for _, h := range t.responseHeaders {
			if strings.EqualFold(h.Name, "content-type") {
				return h.Value, true
			}
		}
		return "", true
	case ast.TargetArgsCombinedSize:
		size := 0
		for _, a := range t.allArgs() {
			size += len(a.Name) + len(a.Value)
		}
		return strconv.Itoa(size), true
	case ast.TargetFilesCombinedSize:
		return "0", true
	case ast.TargetUniqueID:
		return t.id, true
	case ast.TargetDuration:
		return strconv.FormatInt(time.Since(t.startTime).Milliseconds(), 10), true
	case ast.TargetReqbodyError:
		if t.reqbodyError != "" {
			return "1", true
		}
		return "0", true
	case ast.TargetReqbodyProcessor:
		switch t.bodyProcessor {
		case waf.BodyProcessorJSON:
			return "JSON", true
		case waf.BodyProcessorXML:
			return "XML", true
		}
		return "URLENCODED", true
	case ast.TargetWebAppID:
		return t.engine.config.WebAppID, true
	case ast.TargetTime:
		return now.Format("15:04:05"), true
	case ast.TargetTimeSec:
		return fmt.Sprintf("%02d", now.Second()), true
	case ast.TargetTimeMin:
		return fmt.Sprintf("%02d", now.Minute()), true
	case ast.TargetTimeHour:
		return fmt.Sprintf("%02d", now.Hour()), true
	case ast.TargetTimeDay:
		return fmt.Sprintf("%02d", now.Day()), true
	case ast.TargetTimeMon:
		return fmt.Sprintf("%02d", int(now.Month())), true
	case ast.TargetTimeYear:
		return strconv.Itoa(now.Year()), true
	case ast.TargetTimeWday:
		return strconv.Itoa(int(now.Weekday())), true
	case ast.TargetTimeEpoch:
		return strconv.FormatInt(now.Unix(), 10), true
	}

	return "", false
}

func (t *Transaction) allArgs() []nameValuePair {
	args := make([]nameValuePair, 0, len(t.argsGet)+len(t.argsPost))
	args = append(args, t.argsGet...)
	args = append(args, t.argsPost...)
	return args
}

// collectionEntries returns the ordered entries of a collection target, or nil if the
// target is not collection-shaped.
func (t *Transaction) collectionEntries(name ast.TargetName) (entries []nameValuePair, isCollection bool) {
	switch name {
	case ast.TargetArgs:
		return t.allArgs(), true
	case ast.TargetArgsGet:
		return t.argsGet, true
	case ast.TargetArgsPost:
		return t.argsPost, true
	case ast.TargetArgsNames:
		return namesOf(t.allArgs()), true
	case ast.TargetArgsGetNames:
		return namesOf(t.argsGet), true
	case ast.TargetArgsPostNames:
		return namesOf(t.argsPost), true
	case ast.TargetRequestHeaders:
		return t.requestHeaders, true
	case ast.TargetRequestHeadersNames:
		return namesOf(t.requestHeaders), true
	case ast.TargetResponseHeaders:
		return t.responseHeaders, true
	case ast.TargetResponseHeadersNames:
		return namesOf(t.responseHeaders), true
	case ast.TargetRequestCookies:
		return t.cookies, true
	case ast.TargetRequestCookiesNames:
		return namesOf(t.cookies), true
	case ast.TargetEnv:
		var ee []nameValuePair
		for _, k := range sortedKeys(t.envMap) {
			ee = append(ee, nameValuePair{Name: k, Value: t.envMap[k]})
		}
		return ee, true
	case ast.TargetGeo:
		var ee []nameValuePair
		for _, k := range sortedKeys(t.env.geoData) {
			ee = append(ee, nameValuePair{Name: k, Value: t.env.geoData[k]})
		}
		return ee, true
	case ast.TargetTx:
		var ee []nameValuePair
		for _, k := range t.env.TxKeys() {
			ee = append(ee, nameValuePair{Name: k, Value: t.env.txVars[k].String()})
		}
		return ee, true
	case ast.TargetIP, ast.TargetSession, ast.TargetUser, ast.TargetGlobal, ast.TargetResource:
		col := t.env.collections[strings.ToLower(ast.TargetNamesStrings[name])]
		if col == nil {
			return nil, true
		}
		var ee []nameValuePair
		for _, k := range sortedCollectionKeys(col) {
			ee = append(ee, nameValuePair{Name: k, Value: col.vars[k].String()})
		}
		return ee, true
	case ast.TargetMatchedVars:
		var ee []nameValuePair
		for i, v := range t.env.matchedVars {
			ee = append(ee, nameValuePair{Name: t.env.matchedVarNames[i].String(), Value: v.String()})
		}
		return ee, true
	case ast.TargetMatchedVarsNames:
		var ee []nameValuePair
		for _, v := range t.env.matchedVarNames {
			ee = append(ee, nameValuePair{Name: v.String(), Value: v.String()})
		}
		return ee, true
	case ast.TargetXML:
		// XPath selection is out of scope; XML exposes the raw body.
		return []nameValuePair{{Name: "xml", Value: string(t.requestBody)}}, true
	case ast.TargetFiles, ast.TargetFilesNames:
		return nil, true
	}

	return nil, false
}

// resolveTarget maps one variable selector to its values in the transaction, honoring
// count, key, regex-key, dynamic-key and the sibling exclusion set.
func (t *Transaction) resolveTarget(target ast.Target, exceptTargets []ast.Target) ([]variableValue, error) {
	selector := target.Selector
	if target.SelectorMacro != nil {
		selector = strings.ToLower(t.env.ExpandMacros(target.SelectorMacro).String())
	}

	entries, isCollection := t.collectionEntries(target.Name)
	if !isCollection {
		// Single-valued variables, MATCHED_VAR and RULE.
		switch target.Name {
		case ast.TargetMatchedVar:
			v := t.env.matchedVar
			if target.IsCount {
				return countValue(target, boolToInt(v != nil)), nil
			}
			if v == nil {
				return nil, nil
			}
			return []variableValue{{Name: target.Name, Data: v.Bytes()}}, nil

		case ast.TargetMatchedVarName:
			v := t.env.matchedVarName
			if target.IsCount {
				return countValue(target, boolToInt(v != nil)), nil
			}
			if v == nil {
				return nil, nil
			}
			return []variableValue{{Name: target.Name, Data: v.Bytes()}}, nil

		case ast.TargetRule:
			v := t.env.Get(ast.TargetRule, selector)
			if v == nil {
				return nil, nil
			}
			return []variableValue{{Name: target.Name, Key: selector, Data: v.Bytes()}}, nil
		}

		s, ok := t.lookupScalar(target.Name)
		if !ok {
			return nil, fmt.Errorf("unresolvable variable: %s", ast.TargetNamesStrings[target.Name])
		}

		if target.IsCount {
			return countValue(target, boolToInt(s != "")), nil
		}

		return []variableValue{{Name: target.Name, Data: []byte(s)}}, nil
	}

	// Filter the collection's entries down per the selector.
	var selected []nameValuePair
	switch {
	case target.IsRegexSelector:
		rx := t.engine.selectorRx[target.Selector]
		if rx == nil {
			return nil, fmt.Errorf("regex selector %v was not precompiled", target.Selector)
		}
		for _, entry := range entries {
			if rx.MatchString(entry.Name) {
				selected = append(selected, entry)
			}
		}

	case selector != "":
		for _, entry := range entries {
			if keyEquals(target.Name, entry.Name, selector) {
				selected = append(selected, entry)
			}
		}

	default:
		selected = entries
	}

	// Subtract the sibling exclusions that belong to the same collection.
	if len(exceptTargets) > 0 {
		filtered := selected[:0]
		for _, entry := range selected {
			if !t.isExcluded(target.Name, entry.Name, exceptTargets) {
				filtered = append(filtered, entry)
			}
		}
		selected = filtered
	}

	if target.IsCount {
		return countValue(target, len(selected)), nil
	}

	vv := make([]variableValue, 0, len(selected))
	for _, entry := range selected {
		vv = append(vv, variableValue{Name: target.Name, Key: entry.Name, Data: []byte(entry.Value)})
	}

	return vv, nil
}

// isExcluded says whether an entry key is matched by any exclusion selector of the same collection.
func (t *Transaction) isExcluded(name ast.TargetName, entryKey string, exceptTargets []ast.Target) bool {
	for _, except := range exceptTargets {
		if except.Name != name {
			continue
		}

		if except.IsRegexSelector {
			if rx := t.engine.selectorRx[except.Selector]; rx != nil && rx.MatchString(entryKey) {
				return true
			}
			continue
		}

		selector := except.Selector
		if except.SelectorMacro != nil {
			selector = strings.ToLower(t.env.ExpandMacros(except.SelectorMacro).String())
		}

		if selector == "" || keyEquals(name, entryKey, selector) {
			return true
		}
	}

	return false
}

// keyEquals compares a collection entry key against a selector. Header-style collections
// compare case-insensitively; for other collections the entry key is lowercased and compared
// exactly with the selector as given.
func keyEquals(name ast.TargetName, entryKey string, selector string) bool {
	switch name {
	case ast.TargetRequestHeaders, ast.TargetRequestHeadersNames,
		ast.TargetResponseHeaders, ast.TargetResponseHeadersNames,
		ast.TargetRequestCookies, ast.TargetRequestCookiesNames,
		ast.TargetArgs, ast.TargetArgsGet, ast.TargetArgsPost,
		ast.TargetArgsNames, ast.TargetArgsGetNames, ast.TargetArgsPostNames:
		return strings.EqualFold(entryKey, selector)
	}

	return strings.ToLower(entryKey) == selector
}

func countValue(target ast.Target, n int) []variableValue {
	return []variableValue{{Name: target.Name, Key: target.Selector, Data: []byte(strconv.Itoa(n))}}
}

func namesOf(entries []nameValuePair) []nameValuePair {
	nn := make([]nameValuePair, 0, len(entries))
	for _, e := range entries {
		nn = append(nn, nameValuePair{Name: e.Name, Value: e.Name})
	}
	return nn
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func sortedCollectionKeys(col *persistentCollection) []string {
	keys := make([]string, 0, len(col.vars))
	for k := range col.vars {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
