// Package templates loads request templates and resolves them into concrete
// requests.
package templates

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// DefaultName is the name given to the implicit template used when no
// templates file is configured.
const DefaultName = "default"

// Template is a named request body shape. Body is a tree of map[string]any,
// []any, strings, numbers, booleans and nil.
type Template struct {
	Name        string `json:"name" yaml:"name"`
	Description string `json:"description,omitempty" yaml:"description,omitempty"`
	Body        any    `json:"request" yaml:"request"`
}

type templateFile struct {
	Templates []Template `json:"templates" yaml:"templates"`
}

// LoadFile reads a templates file. Files ending in .yaml or .yml are decoded
// as YAML, everything else as JSON.
func LoadFile(path string) ([]Template, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read templates file: %w", err)
	}
	ext := strings.ToLower(filepath.Ext(path))
	if ext == ".yaml" || ext == ".yml" {
		return ParseYAML(data)
	}
	return ParseJSON(data)
}

// ParseJSON decodes a JSON templates document. Numbers are kept as
// json.Number so they re-encode exactly.
func ParseJSON(data []byte) ([]Template, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var file templateFile
	if err := dec.Decode(&file); err != nil {
		return nil, fmt.Errorf("parse templates JSON: %w", err)
	}
	return validate(file.Templates)
}

// ParseYAML decodes a YAML templates document.
func ParseYAML(data []byte) ([]Template, error) {
	var file templateFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse templates YAML: %w", err)
	}
	for i := range file.Templates {
		file.Templates[i].Body = normalizeYAML(file.Templates[i].Body)
	}
	return validate(file.Templates)
}

// normalizeYAML converts map[interface{}]interface{} nodes into
// map[string]any so bodies encode as JSON objects.
func normalizeYAML(v any) any {
	switch val := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, child := range val {
			out[k] = normalizeYAML(child)
		}
		return out
	case map[any]any:
		out := make(map[string]any, len(val))
		for k, child := range val {
			out[fmt.Sprint(k)] = normalizeYAML(child)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, child := range val {
			out[i] = normalizeYAML(child)
		}
		return out
	default:
		return v
	}
}

func validate(list []Template) ([]Template, error) {
	if len(list) == 0 {
		return nil, errors.New("templates file defines no templates")
	}
	seen := make(map[string]struct{}, len(list))
	for i, t := range list {
		name := strings.TrimSpace(t.Name)
		if name == "" {
			return nil, fmt.Errorf("template #%d has no name", i+1)
		}
		if _, dup := seen[name]; dup {
			return nil, fmt.Errorf("duplicate template name %q", name)
		}
		seen[name] = struct{}{}
		list[i].Name = name
	}
	return list, nil
}

// Filter applies a comma separated include/exclude list. Names prefixed with
// ^ are excluded; when any plain names are given only those are kept. Order
// follows the templates file.
func Filter(all []Template, filter string) ([]Template, error) {
	filter = strings.TrimSpace(filter)
	if filter == "" {
		return all, nil
	}
	known := make(map[string]struct{}, len(all))
	for _, t := range all {
		known[t.Name] = struct{}{}
	}

	include := make(map[string]struct{})
	exclude := make(map[string]struct{})
	var unknown []string
	for _, part := range strings.Split(filter, ",") {
		name := strings.TrimSpace(part)
		if name == "" {
			continue
		}
		target := include
		if strings.HasPrefix(name, "^") {
			name = strings.TrimSpace(name[1:])
			target = exclude
		}
		if _, ok := known[name]; !ok {
			unknown = append(unknown, name)
			continue
		}
		target[name] = struct{}{}
	}
	if len(unknown) > 0 {
		return nil, fmt.Errorf("unknown template(s) %s; available: %s", strings.Join(unknown, ", "), strings.Join(Names(all), ", "))
	}

	var out []Template
	for _, t := range all {
		if len(include) > 0 {
			if _, ok := include[t.Name]; !ok {
				continue
			}
		}
		if _, ok := exclude[t.Name]; ok {
			continue
		}
		out = append(out, t)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("template filter %q selects no templates; available: %s", filter, strings.Join(Names(all), ", "))
	}
	return out, nil
}

// Names returns the template names in file order.
func Names(list []Template) []string {
	names := make([]string, len(list))
	for i, t := range list {
		names[i] = t.Name
	}
	return names
}

// PlaceholderText renders every string in the templates for placeholder
// discovery.
func PlaceholderText(list []Template) string {
	var b strings.Builder
	for _, t := range list {
		collectStrings(t.Body, &b)
	}
	return b.String()
}

func collectStrings(v any, b *strings.Builder) {
	switch val := v.(type) {
	case string:
		b.WriteString(val)
		b.WriteByte('\n')
	case map[string]any:
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			collectStrings(val[k], b)
		}
	case []any:
		for _, child := range val {
			collectStrings(child, b)
		}
	}
}
