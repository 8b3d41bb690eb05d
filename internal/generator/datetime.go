package generator

import (
	"sort"
	"strconv"
	"strings"
	"time"
)

// DefaultDatetimeFormat is used when randomDatetime has no format argument.
const DefaultDatetimeFormat = "YYYY-MM-DD HH:mm:ss"

var datetimeFormats = map[string]func(time.Time) string{
	"YYYY-MM-DD HH:mm:ss":  layout("2006-01-02 15:04:05"),
	"YYYY-MM-DDTHH:mm:ss":  layout("2006-01-02T15:04:05"),
	"YYYY-MM-DDTHH:mm:ssZ": func(t time.Time) string { return t.UTC().Format("2006-01-02T15:04:05Z") },
	"YYYY-MM-DD":           layout("2006-01-02"),
	"DD/MM/YYYY":           layout("02/01/2006"),
	"MM/DD/YYYY":           layout("01/02/2006"),
	"DD/MM/YYYY HH:mm:ss":  layout("02/01/2006 15:04:05"),
	"MM/DD/YYYY HH:mm:ss":  layout("01/02/2006 15:04:05"),
	"HH:mm:ss":             layout("15:04:05"),
	"YYYYMMDD":             layout("20060102"),
	"iso8601":              layout("2006-01-02T15:04:05"),
	"rfc3339":              layout(time.RFC3339),
	"unix":                 func(t time.Time) string { return strconv.FormatInt(t.Unix(), 10) },
	"unixms":               func(t time.Time) string { return strconv.FormatInt(t.UnixMilli(), 10) },
}

// boundLayouts are tried in order when parsing start and end arguments.
var boundLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
	"02/01/2006 15:04:05",
	"02/01/2006",
	"01/02/2006",
	"20060102",
}

func layout(l string) func(time.Time) string {
	return func(t time.Time) string { return t.Format(l) }
}

// DatetimeFormats lists the recognised randomDatetime format names.
func DatetimeFormats() []string {
	names := make([]string, 0, len(datetimeFormats))
	for name := range datetimeFormats {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func parseBound(value string, loc *time.Location) (time.Time, bool) {
	value = strings.TrimSpace(value)
	for _, l := range boundLayouts {
		if t, err := time.ParseInLocation(l, value, loc); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

func compileDatetime(args map[string]rawArg) (func(*Generator) (string, error), error) {
	formatName := DefaultDatetimeFormat
	if f, ok := args["format"]; ok {
		formatName = f.value
	}
	format, ok := datetimeFormats[formatName]
	if !ok {
		return nil, validationf(fnDatetime, "unrecognised format %q (known: %s)", formatName, strings.Join(DatetimeFormats(), ", "))
	}

	startArg, hasStart := args["start"]
	endArg, hasEnd := args["end"]
	// Bounds are parsed in the generator's clock location at evaluation, so
	// only their shape is checked here.
	for _, bound := range []struct {
		arg rawArg
		ok  bool
	}{{startArg, hasStart}, {endArg, hasEnd}} {
		if !bound.ok {
			continue
		}
		if _, ok := parseBound(bound.arg.value, time.UTC); !ok {
			return nil, validationf(fnDatetime, "cannot parse date %q", bound.arg.value)
		}
	}

	return func(g *Generator) (string, error) {
		now := g.now()
		// A missing bound always defaults from now.
		start, end := now, now.Add(g.lookAhead)
		if hasStart {
			start, _ = parseBound(startArg.value, now.Location())
		}
		if hasEnd {
			end, _ = parseBound(endArg.value, now.Location())
		}
		if end.Before(start) {
			start, end = end, start
		}
		seconds := int64(end.Sub(start) / time.Second)
		value := start
		if seconds > 0 {
			value = start.Add(time.Duration(g.int63n(seconds+1)) * time.Second)
		}
		return format(value), nil
	}, nil
}
