package engine

import (
	ast "secwaf/secrule/ast"
	"secwaf/waf"

	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"
)

// match is one triggered target value, used to fill MATCHED_VAR and the capture variables.
type match struct {
	TargetName ast.TargetName
	FieldName  string
	Value      []byte
	Captures   [][]byte
}

// environment holds the mutable per-transaction collections: TX, MATCHED_*, RULE, GEO and
// the lazily attached persistent collections. Scalars resolve through the transaction.
type environment struct {
	tx *Transaction

	txVars map[string]ast.Value

	matchedVar      ast.Value
	matchedVarName  ast.Value
	matchedVars     []ast.Value
	matchedVarNames []ast.Value

	// The RULE collection, set while a rule is being evaluated.
	ruleMeta map[string]string

	geoData map[string]string

	collections map[string]*persistentCollection
}

// persistentCollection is the transaction's view of one store-backed collection, attached
// by initcol or by an IP/SESSION/USER style setvar. Writes go back to the store at logging time.
type persistentCollection struct {
	name    string
	key     string
	vars    map[string]ast.Value
	expires map[string]time.Time
	dirty   bool
}

func newEnvironment(t *Transaction) *environment {
	return &environment{
		tx:          t,
		txVars:      make(map[string]ast.Value),
		ruleMeta:    make(map[string]string),
		collections: make(map[string]*persistentCollection),
	}
}

// Get resolves a single macro or variable reference against the environment.
func (e *environment) Get(name ast.TargetName, selector string) ast.Value {
	switch name {
	case ast.TargetTx:
		return e.txVars[selector]

	case ast.TargetMatchedVar:
		return e.matchedVar

	case ast.TargetMatchedVarName:
		return e.matchedVarName

	case ast.TargetRule:
		if v, ok := e.ruleMeta[selector]; ok {
			return ast.MakeValue(v)
		}
		return nil

	case ast.TargetGeo:
		if v, ok := e.geoData[selector]; ok {
			return ast.MakeValue(v)
		}
		return nil

	case ast.TargetEnv:
		if v, ok := e.tx.envMap[selector]; ok {
			return ast.MakeValue(v)
		}
		return nil

	case ast.TargetIP, ast.TargetSession, ast.TargetUser, ast.TargetGlobal, ast.TargetResource:
		col := e.collections[strings.ToLower(ast.TargetNamesStrings[name])]
		if col == nil {
			return nil
		}
		return col.get(selector)

	case ast.TargetRequestHeaders:
		for _, h := range e.tx.requestHeaders {
			if strings.EqualFold(h.Name, selector) {
				return ast.MakeValue(h.Value)
			}
		}
		return nil
	}

	if v, ok := e.tx.lookupScalar(name); ok {
		return ast.MakeValue(v)
	}

	return nil
}

// Set stores into a settable collection.
func (e *environment) Set(name ast.TargetName, selector string, v ast.Value) {
	switch name {
	case ast.TargetTx:
		e.txVars[selector] = v

	case ast.TargetMatchedVar:
		e.matchedVar = v

	case ast.TargetMatchedVarName:
		e.matchedVarName = v

	case ast.TargetIP, ast.TargetSession, ast.TargetUser, ast.TargetGlobal, ast.TargetResource:
		colName := strings.ToLower(ast.TargetNamesStrings[name])
		col := e.collections[colName]
		if col == nil {
			// A setvar against a collection that was never initialized still works within
			// the transaction; the write-back key defaults to the client address.
			col = e.tx.newPersistentCollection(colName, e.tx.clientIP)
			e.collections[colName] = col
		}
		col.set(selector, v)
	}
}

// Delete removes an entry from a settable collection.
func (e *environment) Delete(name ast.TargetName, selector string) {
	switch name {
	case ast.TargetTx:
		delete(e.txVars, selector)

	case ast.TargetIP, ast.TargetSession, ast.TargetUser, ast.TargetGlobal, ast.TargetResource:
		if col := e.collections[strings.ToLower(ast.TargetNamesStrings[name])]; col != nil {
			col.delete(selector)
		}
	}
}

// TxKeys returns the TX variable keys in sorted order, for deterministic regex-selector scans.
func (e *environment) TxKeys() []string {
	keys := make([]string, 0, len(e.txVars))
	for k := range e.txVars {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func (e *environment) resetMatchesCollections() {
	e.matchedVars = nil
	e.matchedVarNames = nil
}

func (e *environment) updateMatches(matches []match) {
	for i, m := range matches {
		v := ast.Value{ast.StringToken(m.Value)}
		if n, err := strconv.Atoi(string(m.Value)); err == nil {
			v = ast.Value{ast.IntToken(n)}
		}

		e.matchedVars = append(e.matchedVars, v)

		// Prepend the target name, so it becomes for example "ARGS:myarg1".
		fullVarName := ast.TargetNamesStrings[m.TargetName]
		if m.FieldName != "" {
			fullVarName += ":" + m.FieldName
		}
		vn := ast.MakeValue(fullVarName)
		e.matchedVarNames = append(e.matchedVarNames, vn)

		if i == len(matches)-1 {
			e.matchedVar = v
			e.matchedVarName = vn
		}
	}
}

func (e *environment) setRuleMeta(id int, msg string, severity int, hasSeverity bool) {
	e.ruleMeta = map[string]string{
		"id":  strconv.Itoa(id),
		"msg": msg,
	}
	if hasSeverity {
		e.ruleMeta["severity"] = strconv.Itoa(severity)
	}
}

// ExpandMacros replaces the macro tokens of a Value with their current values.
// Macros that cannot be resolved expand to blanks.
func (e *environment) ExpandMacros(v ast.Value) ast.Value {
	output := make(ast.Value, 0, len(v)) // Output will contain at max the same number of tokens as input.

	for _, token := range v {
		if mt, ok := token.(ast.MacroToken); ok {
			if val := e.Get(mt.Name, mt.Selector); val != nil {
				output = append(output, val...)
			}
			continue
		}

		// This was not a macro token, so just keep it as is.
		output = append(output, token)
	}

	return output
}

// GeoDB implements operators.EvalContext.
func (e *environment) GeoDB() waf.GeoDB {
	return e.tx.engine.geoDB
}

// RBLResolver implements operators.EvalContext.
func (e *environment) RBLResolver() waf.RBLResolver {
	return e.tx.engine.rbl
}

// SetGeoData implements operators.EvalContext. The geoLookup-operator fills the GEO collection.
func (e *environment) SetGeoData(data map[string]string) {
	e.geoData = data
}

// initCollection attaches a persistent collection to the transaction, loading the entries
// stored under the given key.
func (e *environment) initCollection(name string, key string) {
	name = strings.ToLower(name)
	if col, ok := e.collections[name]; ok && col.key == key {
		return
	}

	e.collections[name] = e.tx.newPersistentCollection(name, key)
}

// persistCollections writes dirty collection entries back through the store.
func (e *environment) persistCollections() {
	store := e.tx.engine.store
	if store == nil {
		return
	}

	ttl := time.Duration(e.tx.engine.config.CollectionTimeoutSec) * time.Second
	for _, col := range e.collections {
		if !col.dirty {
			continue
		}

		for k, v := range col.vars {
			entryTTL := ttl
			if at, ok := col.expires[k]; ok {
				entryTTL = time.Until(at)
			}

			if err := store.Put(col.name, col.key+":"+k, v.Bytes(), entryTTL); err != nil {
				e.tx.logger.Warn().Err(err).Str("collection", col.name).Msg("Error writing persistent collection entry")
			}
		}
	}
}

// newPersistentCollection loads a store-backed collection view for the given key.
func (t *Transaction) newPersistentCollection(name string, key string) *persistentCollection {
	col := &persistentCollection{
		name:    name,
		key:     key,
		vars:    make(map[string]ast.Value),
		expires: make(map[string]time.Time),
	}

	store := t.engine.store
	if store == nil {
		return col
	}

	prefix := key + ":"
	keys, err := store.KeysMatching(name, "^"+regexp.QuoteMeta(prefix))
	if err != nil {
		t.logger.Warn().Err(err).Str("collection", name).Msg("Error listing persistent collection keys")
		return col
	}

	for _, k := range keys {
		entry, err := store.Get(name, k)
		if err != nil || entry == nil {
			continue
		}
		col.vars[strings.TrimPrefix(k, prefix)] = ast.MakeValue(string(entry.Value))
	}

	return col
}

func (c *persistentCollection) get(selector string) ast.Value {
	return c.vars[selector]
}

func (c *persistentCollection) set(selector string, v ast.Value) {
	c.vars[selector] = v
	c.dirty = true
}

func (c *persistentCollection) delete(selector string) {
	delete(c.vars, selector)
	c.dirty = true
}

func (c *persistentCollection) expire(selector string, at time.Time) {
	c.expires[selector] = at
	c.dirty = true
}
