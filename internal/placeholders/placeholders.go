// Package placeholders substitutes [[NAME]] environment placeholders from an
// explicit lookup table.
//
// A placeholder may carry a default: [[NAME|fallback]] resolves to fallback
// when NAME is undefined, and [[NAME|]] resolves to the empty string. A
// placeholder without a default whose name is undefined is an error.
package placeholders

import (
	"fmt"
	"os"
	"regexp"
	"sort"
	"strings"
)

var placeholderRegex = regexp.MustCompile(`\[\[([A-Za-z_][A-Za-z0-9_]*)(\|[^\]]*)?\]\]`)

// UndefinedError reports a placeholder with no value and no default.
type UndefinedError struct {
	Name string
}

func (e *UndefinedError) Error() string {
	return fmt.Sprintf("undefined variable %q: set it in the environment, a .env file, or with --%s", e.Name, FlagName(e.Name))
}

// Lookup resolves placeholder names.
type Lookup interface {
	Lookup(name string) (string, bool)
}

// Vars is a map-backed Lookup.
type Vars map[string]string

// Lookup returns the value stored under name.
func (v Vars) Lookup(name string) (string, bool) {
	value, ok := v[name]
	return value, ok
}

// FromEnviron builds Vars from KEY=VALUE pairs as returned by os.Environ.
func FromEnviron(environ []string) Vars {
	vars := make(Vars, len(environ))
	for _, kv := range environ {
		key, value, ok := strings.Cut(kv, "=")
		if !ok || key == "" {
			continue
		}
		vars[key] = value
	}
	return vars
}

// ProcessEnv returns the current process environment as Vars.
func ProcessEnv() Vars {
	return FromEnviron(os.Environ())
}

type chain []Lookup

func (c chain) Lookup(name string) (string, bool) {
	for _, l := range c {
		if l == nil {
			continue
		}
		if value, ok := l.Lookup(name); ok {
			return value, true
		}
	}
	return "", false
}

// Chain consults lookups in order and returns the first match.
func Chain(lookups ...Lookup) Lookup {
	return chain(lookups)
}

// Apply replaces every placeholder in s. The first undefined placeholder
// without a default is returned as *UndefinedError.
func Apply(s string, lookup Lookup) (string, error) {
	if !strings.Contains(s, "[[") {
		return s, nil
	}
	var firstErr error
	out := placeholderRegex.ReplaceAllStringFunc(s, func(match string) string {
		parts := placeholderRegex.FindStringSubmatch(match)
		name := parts[1]
		if lookup != nil {
			if value, ok := lookup.Lookup(name); ok {
				return value
			}
		}
		if parts[2] != "" {
			return parts[2][1:]
		}
		if firstErr == nil {
			firstErr = &UndefinedError{Name: name}
		}
		return match
	})
	if firstErr != nil {
		return "", firstErr
	}
	return out, nil
}

// Discover returns the distinct placeholder names referenced in text, sorted.
func Discover(text string) []string {
	seen := make(map[string]struct{})
	for _, m := range placeholderRegex.FindAllStringSubmatch(text, -1) {
		seen[m[1]] = struct{}{}
	}
	names := make([]string, 0, len(seen))
	for name := range seen {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// FlagName converts a placeholder name to its command line flag form:
// API_KEY becomes api-key.
func FlagName(name string) string {
	return strings.ReplaceAll(strings.ToLower(name), "_", "-")
}
