package extract

import (
	"strings"

	"github.com/tidwall/gjson"
)

// lookupPath reads a gjson path from a JSON body. "$.a.b", "a.b" and
// "body.a.b" are equivalent; a bare "$" returns the whole document.
func lookupPath(body []byte, path string) (any, bool) {
	if len(body) == 0 || !gjson.ValidBytes(body) {
		return nil, false
	}
	path = strings.TrimPrefix(path, "body.")
	switch {
	case path == "$":
		path = "@this"
	case strings.HasPrefix(path, "$."):
		path = path[2:]
	}
	res := gjson.GetBytes(body, path)
	if !res.Exists() {
		return nil, false
	}
	return res.Value(), true
}

// flatten walks a JSON object, storing each non-object leaf under its dotted
// path. Arrays are kept whole.
func flatten(prefix string, obj gjson.Result, out map[string]any) {
	obj.ForEach(func(k, v gjson.Result) bool {
		key := k.String()
		if prefix != "" {
			key = prefix + "." + key
		}
		if v.IsObject() {
			flatten(key, v, out)
		} else {
			out[key] = v.Value()
		}
		return true
	})
}
