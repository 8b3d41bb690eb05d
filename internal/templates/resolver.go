package templates

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/torosent/loadforge/internal/generator"
	"github.com/torosent/loadforge/internal/placeholders"
	"github.com/torosent/loadforge/internal/variables"
)

// ResolveError locates a failure inside a template.
type ResolveError struct {
	Template string
	Path     string
	Err      error
}

func (e *ResolveError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("template %q: %v", e.Template, e.Err)
	}
	return fmt.Sprintf("template %q at %s: %v", e.Template, e.Path, e.Err)
}

func (e *ResolveError) Unwrap() error { return e.Err }

// Request is a fully resolved request ready for dispatch.
type Request struct {
	Template string
	Method   string
	URL      string
	Headers  map[string]string
	Body     any
	Values   map[string]string // named generated values, nil when none
}

// Resolver turns templates into concrete values: every string leaf has its
// [[NAME]] placeholders substituted from the lookup, then its generator calls
// evaluated. A Resolver holds no per-request state and is safe for
// concurrent use.
type Resolver struct {
	gen    *generator.Generator
	lookup placeholders.Lookup
}

// NewResolver creates a resolver. A nil generator gets a default one.
func NewResolver(gen *generator.Generator, lookup placeholders.Lookup) *Resolver {
	if gen == nil {
		gen = generator.New()
	}
	return &Resolver{gen: gen, lookup: lookup}
}

// Resolve returns a copy of t's body with all strings resolved using a fresh
// memory scope.
func (r *Resolver) Resolve(t Template) (any, error) {
	p, err := r.Prepare(t)
	if err != nil {
		return nil, err
	}
	return p.Render(variables.NewScope())
}

type node interface {
	render(g *generator.Generator, scope *variables.Scope) (any, error)
}

type constNode struct{ value any }

func (n constNode) render(*generator.Generator, *variables.Scope) (any, error) { return n.value, nil }

type exprNode struct{ expr *generator.Expression }

func (n exprNode) render(g *generator.Generator, scope *variables.Scope) (any, error) {
	return n.expr.Eval(g, scope)
}

type mapNode struct {
	keys     []string
	children []node
}

func (n mapNode) render(g *generator.Generator, scope *variables.Scope) (any, error) {
	out := make(map[string]any, len(n.keys))
	for i, key := range n.keys {
		v, err := n.children[i].render(g, scope)
		if err != nil {
			return nil, err
		}
		out[key] = v
	}
	return out, nil
}

type sliceNode struct{ children []node }

func (n sliceNode) render(g *generator.Generator, scope *variables.Scope) (any, error) {
	out := make([]any, len(n.children))
	for i, child := range n.children {
		v, err := child.render(g, scope)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

// Prepared is a template whose placeholders are substituted and whose
// generator expressions are compiled. It is immutable.
type Prepared struct {
	name string
	root node
	gen  *generator.Generator
}

// Name returns the template name.
func (p *Prepared) Name() string { return p.name }

// Render evaluates the template with scope. Map keys are visited in sorted
// order so named values resolve deterministically.
func (p *Prepared) Render(scope *variables.Scope) (any, error) {
	v, err := p.root.render(p.gen, scope)
	if err != nil {
		return nil, &ResolveError{Template: p.name, Err: err}
	}
	return v, nil
}

// Prepare substitutes placeholders and compiles generator expressions. All
// configuration, syntax and validation errors surface here.
func (r *Resolver) Prepare(t Template) (*Prepared, error) {
	root, err := r.prepareValue(t.Name, "", t.Body)
	if err != nil {
		return nil, err
	}
	return &Prepared{name: t.Name, root: root, gen: r.gen}, nil
}

func (r *Resolver) prepareValue(template, path string, v any) (node, error) {
	switch val := v.(type) {
	case string:
		expr, err := r.compileString(val)
		if err != nil {
			return nil, &ResolveError{Template: template, Path: displayPath(path), Err: err}
		}
		if lit, ok := expr.Literal(); ok {
			return constNode{value: lit}, nil
		}
		return exprNode{expr: expr}, nil
	case map[string]any:
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		n := mapNode{keys: keys, children: make([]node, len(keys))}
		for i, k := range keys {
			child, err := r.prepareValue(template, path+"/"+escapePointer(k), val[k])
			if err != nil {
				return nil, err
			}
			n.children[i] = child
		}
		return n, nil
	case []any:
		n := sliceNode{children: make([]node, len(val))}
		for i, item := range val {
			child, err := r.prepareValue(template, path+"/"+strconv.Itoa(i), item)
			if err != nil {
				return nil, err
			}
			n.children[i] = child
		}
		return n, nil
	default:
		return constNode{value: v}, nil
	}
}

func (r *Resolver) compileString(s string) (*generator.Expression, error) {
	substituted, err := placeholders.Apply(s, r.lookup)
	if err != nil {
		return nil, err
	}
	return generator.Compile(substituted)
}

func displayPath(path string) string {
	if path == "" {
		return "/"
	}
	return path
}

func escapePointer(key string) string {
	return strings.ReplaceAll(strings.ReplaceAll(key, "~", "~0"), "/", "~1")
}

// PreparedRequest pairs a prepared body with the request line and headers,
// all resolved against one memory scope per request.
type PreparedRequest struct {
	method      string
	url         *generator.Expression
	headerNames []string
	headers     map[string]*generator.Expression
	body        *Prepared
	gen         *generator.Generator
}

// PrepareRequest prepares method, URL, headers and template body together.
func (r *Resolver) PrepareRequest(method, url string, headers map[string]string, t Template) (*PreparedRequest, error) {
	body, err := r.Prepare(t)
	if err != nil {
		return nil, err
	}
	urlExpr, err := r.compileString(url)
	if err != nil {
		return nil, &ResolveError{Template: t.Name, Path: "url", Err: err}
	}
	pr := &PreparedRequest{
		method:  strings.ToUpper(method),
		url:     urlExpr,
		headers: make(map[string]*generator.Expression, len(headers)),
		body:    body,
		gen:     r.gen,
	}
	for name, value := range headers {
		expr, err := r.compileString(value)
		if err != nil {
			return nil, &ResolveError{Template: t.Name, Path: "header " + name, Err: err}
		}
		pr.headers[name] = expr
		pr.headerNames = append(pr.headerNames, name)
	}
	sort.Strings(pr.headerNames)
	return pr, nil
}

// Template returns the template name.
func (p *PreparedRequest) Template() string { return p.body.name }

// Resolve produces a concrete request using a fresh memory scope shared by
// the URL, headers and body.
func (p *PreparedRequest) Resolve() (Request, error) {
	scope := variables.NewScope()
	url, err := p.url.Eval(p.gen, scope)
	if err != nil {
		return Request{}, &ResolveError{Template: p.body.name, Path: "url", Err: err}
	}
	headers := make(map[string]string, len(p.headers))
	for _, name := range p.headerNames {
		value, err := p.headers[name].Eval(p.gen, scope)
		if err != nil {
			return Request{}, &ResolveError{Template: p.body.name, Path: "header " + name, Err: err}
		}
		headers[name] = value
	}
	body, err := p.body.Render(scope)
	if err != nil {
		return Request{}, err
	}
	req := Request{
		Template: p.body.name,
		Method:   p.method,
		URL:      url,
		Headers:  headers,
		Body:     body,
	}
	if scope.Len() > 0 {
		req.Values = scope.Snapshot()
	}
	return req, nil
}
