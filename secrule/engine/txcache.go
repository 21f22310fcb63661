package engine

import (
	ast "secwaf/secrule/ast"
	tr "secwaf/secrule/transformations"

	"strconv"
	"strings"
)

// txCache is the per-transaction transformation cache. The same input value run through
// the same transformation pipeline by different rules computes only once. Keying on the
// input bytes rather than the variable origin keeps duplicate argument names with
// different values from colliding. The cache is never shared between transactions, so it
// needs no locking.
type txCache struct {
	entries map[txCacheKey]string
	hits    int
	misses  int
}

type txCacheKey struct {
	input    string
	pipeline string
}

func newTxCache() *txCache {
	return &txCache{entries: make(map[txCacheKey]string)}
}

// apply runs the transformation pipeline over the value, going through the cache.
func (c *txCache) apply(v variableValue, tt []ast.Transformation) string {
	if len(tt) == 0 {
		return string(v.Data)
	}

	key := txCacheKey{input: string(v.Data), pipeline: pipelineKey(tt)}
	if cached, ok := c.entries[key]; ok {
		c.hits++
		return cached
	}

	c.misses++
	out := tr.ApplyPipeline(key.input, tt)
	c.entries[key] = out
	return out
}

func pipelineKey(tt []ast.Transformation) string {
	var sb strings.Builder
	for _, t := range tt {
		sb.WriteString(strconv.Itoa(int(t)))
		sb.WriteByte(',')
	}
	return sb.String()
}
