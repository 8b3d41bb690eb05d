package extract

import (
	"fmt"
	"sort"
)

// Query selects what Extract returns.
type Query struct {
	Attributes      []string
	Sort            bool   // sort each attribute's values
	SortBy          string // switch to the merged format, ordered by this attribute
	IncludeTemplate bool
}

// Extract returns {"result": ...} for the loaded responses.
//
// Without SortBy every attribute lists its values separately:
//
//	{"result": {"id": [{"instance_1_1": "a"}, ...], "message": [...]}}
//
// With SortBy, responses that carry the SortBy attribute are merged into one
// object each and ordered by it:
//
//	{"result": [{"instance_1_4": {"id": "a", "message": "ok"}}, ...]}
func (x *Extractor) Extract(q Query) Object {
	if q.SortBy != "" {
		return Object{{Key: "result", Value: x.merged(q)}}
	}
	return Object{{Key: "result", Value: x.separate(q)}}
}

func (x *Extractor) separate(q Query) Object {
	out := make(Object, 0, len(q.Attributes))
	for _, attr := range q.Attributes {
		rows := make([]Object, 0)
		var keys []any
		for _, r := range x.responses {
			v, ok := r.Get(attr)
			if !ok {
				continue
			}
			row := Object{{Key: r.ID, Value: v}}
			if q.IncludeTemplate && r.Template != "" {
				row = append(row, Field{Key: "template", Value: r.Template})
			}
			rows = append(rows, row)
			keys = append(keys, v)
		}
		if q.Sort {
			sortRows(rows, keys)
		}
		out = append(out, Field{Key: attr, Value: rows})
	}
	return out
}

func (x *Extractor) merged(q Query) []Object {
	rows := make([]Object, 0)
	var keys []any
	for _, r := range x.responses {
		sortValue, ok := r.Get(q.SortBy)
		if !ok {
			continue
		}
		fields := make(Object, 0, len(q.Attributes)+1)
		for _, attr := range q.Attributes {
			if v, ok := r.Get(attr); ok {
				fields = append(fields, Field{Key: attr, Value: v})
			}
		}
		if q.IncludeTemplate && r.Template != "" {
			fields = append(fields, Field{Key: "template", Value: r.Template})
		}
		rows = append(rows, Object{{Key: r.ID, Value: fields}})
		keys = append(keys, sortValue)
	}
	sortRows(rows, keys)
	return rows
}

// sortRows orders rows by keys. Numbers compare numerically and strings
// lexically; any other mix falls back to comparing string forms.
func sortRows(rows []Object, keys []any) {
	idx := make([]int, len(rows))
	for i := range idx {
		idx[i] = i
	}
	less := lessFunc(keys)
	sort.SliceStable(idx, func(a, b int) bool { return less(keys[idx[a]], keys[idx[b]]) })

	sorted := make([]Object, len(rows))
	for i, j := range idx {
		sorted[i] = rows[j]
	}
	copy(rows, sorted)
}

func lessFunc(keys []any) func(a, b any) bool {
	allNumbers, allStrings := true, true
	for _, k := range keys {
		if _, ok := number(k); !ok {
			allNumbers = false
		}
		if _, ok := k.(string); !ok {
			allStrings = false
		}
	}
	switch {
	case allNumbers:
		return func(a, b any) bool {
			x, _ := number(a)
			y, _ := number(b)
			return x < y
		}
	case allStrings:
		return func(a, b any) bool { return a.(string) < b.(string) }
	default:
		return func(a, b any) bool { return fmt.Sprint(a) < fmt.Sprint(b) }
	}
}

func number(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case float64:
		return n, true
	default:
		return 0, false
	}
}
