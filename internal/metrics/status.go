package metrics

import "sort"

// StatusBucket is the count of one status label within one template.
type StatusBucket struct {
	Template string
	Code     string
	Count    int
}

// FlattenStatusBuckets converts a nested template->status map into a sorted slice of StatusBucket rows.
// Rows are sorted by descending count, then by template/code for stability.
func FlattenStatusBuckets(buckets map[string]map[string]int) []StatusBucket {
	if len(buckets) == 0 {
		return nil
	}
	rows := make([]StatusBucket, 0)
	for template, codes := range buckets {
		for code, count := range codes {
			rows = append(rows, StatusBucket{Template: template, Code: code, Count: count})
		}
	}
	sort.Slice(rows, func(i, j int) bool {
		if rows[i].Count == rows[j].Count {
			if rows[i].Template == rows[j].Template {
				return rows[i].Code < rows[j].Code
			}
			return rows[i].Template < rows[j].Template
		}
		return rows[i].Count > rows[j].Count
	})
	return rows
}

// CountRow is one entry of a flat counter map.
type CountRow struct {
	Key   string
	Count int
}

// SortedCounts orders a counter map by descending count, then key.
func SortedCounts(counts map[string]int) []CountRow {
	rows := make([]CountRow, 0, len(counts))
	for k, v := range counts {
		rows = append(rows, CountRow{Key: k, Count: v})
	}
	sort.Slice(rows, func(i, j int) bool {
		if rows[i].Count == rows[j].Count {
			return rows[i].Key < rows[j].Key
		}
		return rows[i].Count > rows[j].Count
	})
	return rows
}
