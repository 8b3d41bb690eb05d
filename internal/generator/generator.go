package generator

import (
	"math/rand/v2"
	"strings"
	"sync"
	"time"

	"github.com/torosent/loadforge/internal/variables"
)

// DefaultLookAhead is the window after now used when randomDatetime has no
// end bound.
const DefaultLookAhead = 30 * 24 * time.Hour

// Generator produces random values. It is safe for concurrent use.
type Generator struct {
	mu        sync.Mutex
	rnd       *rand.Rand
	now       func() time.Time
	lookAhead time.Duration
}

// Option configures a Generator.
type Option func(*Generator)

// WithRand sets the random source. Useful for deterministic tests.
func WithRand(rnd *rand.Rand) Option {
	return func(g *Generator) {
		if rnd != nil {
			g.rnd = rnd
		}
	}
}

// WithClock overrides the clock used for randomDatetime defaults.
func WithClock(now func() time.Time) Option {
	return func(g *Generator) {
		if now != nil {
			g.now = now
		}
	}
}

// WithLookAhead overrides DefaultLookAhead.
func WithLookAhead(d time.Duration) Option {
	return func(g *Generator) {
		if d > 0 {
			g.lookAhead = d
		}
	}
}

// New creates a Generator seeded from the current time.
func New(opts ...Option) *Generator {
	g := &Generator{
		rnd:       rand.New(rand.NewPCG(uint64(time.Now().UnixNano()), rand.Uint64())),
		now:       time.Now,
		lookAhead: DefaultLookAhead,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

func (g *Generator) int63n(n int64) int64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.rnd.Int64N(n)
}

func (g *Generator) intn(n int) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.rnd.IntN(n)
}

// Evaluate compiles s and evaluates it against scope.
func (g *Generator) Evaluate(s string, scope *variables.Scope) (string, error) {
	expr, err := Compile(s)
	if err != nil {
		return "", err
	}
	return expr.Eval(g, scope)
}

type segment struct {
	literal string
	call    *call
}

type call struct {
	fn   string
	name string
	gen  func(g *Generator) (string, error)
}

// Expression is a compiled string: literal text interleaved with generator
// calls.
type Expression struct {
	source   string
	segments []segment
	calls    int
}

// Compile parses s and validates all call arguments.
func Compile(s string) (*Expression, error) {
	expr := &Expression{source: s}
	if !strings.Contains(s, "random") {
		if s != "" {
			expr.segments = []segment{{literal: s}}
		}
		return expr, nil
	}
	tokens, err := tokenize(s)
	if err != nil {
		return nil, err
	}
	for _, tok := range tokens {
		if tok.call == nil {
			expr.segments = append(expr.segments, segment{literal: tok.literal})
			continue
		}
		c, err := compileCall(s, tok.call)
		if err != nil {
			return nil, err
		}
		expr.segments = append(expr.segments, segment{call: c})
		expr.calls++
	}
	return expr, nil
}

// Source returns the text the expression was compiled from.
func (e *Expression) Source() string { return e.source }

// HasCalls reports whether the expression contains any generator call.
func (e *Expression) HasCalls() bool { return e.calls > 0 }

// Literal returns the expression text when it contains no calls.
func (e *Expression) Literal() (string, bool) {
	if e.calls > 0 {
		return "", false
	}
	return e.source, true
}

// Eval produces the expression's value. Named calls consult and populate
// scope; calls are evaluated left to right.
func (e *Expression) Eval(g *Generator, scope *variables.Scope) (string, error) {
	if e.calls == 0 {
		return e.source, nil
	}
	var b strings.Builder
	for _, seg := range e.segments {
		if seg.call == nil {
			b.WriteString(seg.literal)
			continue
		}
		c := seg.call
		if c.name != "" {
			if value, ok := scope.Recall(c.name); ok {
				b.WriteString(value)
				continue
			}
		}
		value, err := c.gen(g)
		if err != nil {
			return "", err
		}
		if c.name != "" {
			scope.Remember(c.name, value)
		}
		b.WriteString(value)
	}
	return b.String(), nil
}
