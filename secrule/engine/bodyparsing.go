package engine

import (
	tr "secwaf/secrule/transformations"

	"encoding/json"
	"fmt"
	"sort"
	"strconv"
)

func urlUnescape(s string) string {
	return tr.WeakURLUnescape(s, false)
}

// parseJSONBody flattens a JSON request body into ordered name/value pairs with dotted-path
// names, so that JSON fields are visible to rules as ARGS_POST entries.
func parseJSONBody(body []byte) ([]nameValuePair, error) {
	if len(body) == 0 {
		return nil, nil
	}

	var root interface{}
	if err := json.Unmarshal(body, &root); err != nil {
		return nil, fmt.Errorf("invalid JSON body: %v", err)
	}

	var args []nameValuePair
	flattenJSON("json", root, &args)
	return args, nil
}

func flattenJSON(prefix string, node interface{}, args *[]nameValuePair) {
	switch node := node.(type) {
	case map[string]interface{}:
		// Go maps iterate in random order; rules should still see a deterministic arg order.
		keys := make([]string, 0, len(node))
		for k := range node {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			flattenJSON(prefix+"."+k, node[k], args)
		}

	case []interface{}:
		for i, v := range node {
			flattenJSON(prefix+"."+strconv.Itoa(i), v, args)
		}

	case string:
		*args = append(*args, nameValuePair{Name: prefix, Value: node})

	case float64:
		*args = append(*args, nameValuePair{Name: prefix, Value: strconv.FormatFloat(node, 'f', -1, 64)})

	case bool:
		*args = append(*args, nameValuePair{Name: prefix, Value: strconv.FormatBool(node)})

	case nil:
		*args = append(*args, nameValuePair{Name: prefix, Value: ""})
	}
}
