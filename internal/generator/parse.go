package generator

import (
	"strings"
)

const (
	fnString   = "randomString"
	fnInt      = "randomInt"
	fnFloat    = "randomFloat"
	fnUUID     = "randomUuid"
	fnDatetime = "randomDatetime"
)

// params lists the positional order of every function's arguments.
var params = map[string][]string{
	fnString:   {"length", "name"},
	fnInt:      {"min", "max", "name"},
	fnFloat:    {"min", "max", "decimals", "suffix", "name"},
	fnUUID:     {"name"},
	fnDatetime: {"start", "end", "format", "name"},
}

type rawArg struct {
	key    string
	value  string
	quoted bool
	offset int
}

type rawCall struct {
	fn     string
	offset int
	args   []rawArg
}

type token struct {
	literal string
	call    *rawCall
}

func isIdentByte(c byte) bool {
	return c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9')
}

// tokenize splits s into literal runs and generator calls.
func tokenize(s string) ([]token, error) {
	var tokens []token
	var lit strings.Builder
	i := 0
	for i < len(s) {
		if s[i] != 'r' || !strings.HasPrefix(s[i:], "random") || (i > 0 && isIdentByte(s[i-1])) {
			lit.WriteByte(s[i])
			i++
			continue
		}
		j := i
		for j < len(s) && isIdentByte(s[j]) {
			j++
		}
		ident := s[i:j]
		if _, known := params[ident]; !known {
			lit.WriteString(ident)
			i = j
			continue
		}
		k := j
		for k < len(s) && (s[k] == ' ' || s[k] == '\t') {
			k++
		}
		if k >= len(s) || s[k] != '(' {
			lit.WriteString(ident)
			i = j
			continue
		}
		args, end, err := parseArgs(s, k+1)
		if err != nil {
			return nil, err
		}
		if lit.Len() > 0 {
			tokens = append(tokens, token{literal: lit.String()})
			lit.Reset()
		}
		tokens = append(tokens, token{call: &rawCall{fn: ident, offset: i, args: args}})
		i = end + 1
	}
	if lit.Len() > 0 {
		tokens = append(tokens, token{literal: lit.String()})
	}
	return tokens, nil
}

// parseArgs reads a comma separated argument list starting at s[start] and
// returns the index of the closing parenthesis.
func parseArgs(s string, start int) ([]rawArg, int, error) {
	var args []rawArg
	var cur strings.Builder
	argStart := start
	var quote byte

	flush := func(at int, closing bool) error {
		text := cur.String()
		cur.Reset()
		trimmed := strings.TrimSpace(text)
		if trimmed == "" {
			if closing && len(args) == 0 {
				return nil
			}
			return &SyntaxError{Expr: s, Offset: at, Reason: "empty argument"}
		}
		arg, err := splitArg(s, trimmed, argStart)
		if err != nil {
			return err
		}
		args = append(args, arg)
		return nil
	}

	for i := start; i < len(s); i++ {
		c := s[i]
		if quote != 0 {
			cur.WriteByte(c)
			if c == quote {
				quote = 0
			}
			continue
		}
		switch c {
		case '\'', '"':
			quote = c
			cur.WriteByte(c)
		case ',':
			if err := flush(i, false); err != nil {
				return nil, 0, err
			}
			argStart = i + 1
		case ')':
			if err := flush(i, true); err != nil {
				return nil, 0, err
			}
			return args, i, nil
		case '(':
			return nil, 0, &SyntaxError{Expr: s, Offset: i, Reason: "unexpected '(' in argument list"}
		default:
			cur.WriteByte(c)
		}
	}
	if quote != 0 {
		return nil, 0, &SyntaxError{Expr: s, Offset: len(s), Reason: "unterminated quoted argument"}
	}
	return nil, 0, &SyntaxError{Expr: s, Offset: start - 1, Reason: "missing closing ')'"}
}

func splitArg(expr, text string, offset int) (rawArg, error) {
	arg := rawArg{offset: offset}
	if text[0] != '\'' && text[0] != '"' {
		if eq := strings.IndexByte(text, '='); eq > 0 {
			key := strings.TrimSpace(text[:eq])
			if isIdentifier(key) {
				arg.key = key
				text = strings.TrimSpace(text[eq+1:])
				if text == "" {
					return arg, &SyntaxError{Expr: expr, Offset: offset, Reason: "missing value for " + key}
				}
			}
		}
	}
	if text[0] == '\'' || text[0] == '"' {
		q := text[0]
		if len(text) < 2 || text[len(text)-1] != q || strings.IndexByte(text[1:len(text)-1], q) >= 0 {
			return arg, &SyntaxError{Expr: expr, Offset: offset, Reason: "malformed quoted argument " + text}
		}
		arg.value = text[1 : len(text)-1]
		arg.quoted = true
		return arg, nil
	}
	if strings.ContainsAny(text, "'\"") {
		return arg, &SyntaxError{Expr: expr, Offset: offset, Reason: "stray quote in argument " + text}
	}
	arg.value = text
	return arg, nil
}

func isIdentifier(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		if !isIdentByte(s[i]) {
			return false
		}
	}
	return !(s[0] >= '0' && s[0] <= '9')
}

// bind maps positional and keyword arguments onto the function's parameter
// names.
func bind(expr string, c *rawCall) (map[string]rawArg, error) {
	names := params[c.fn]
	bound := make(map[string]rawArg, len(c.args))
	pos := 0
	for _, arg := range c.args {
		if arg.key != "" {
			if !contains(names, arg.key) {
				return nil, &SyntaxError{Expr: expr, Offset: arg.offset, Reason: c.fn + " has no parameter " + arg.key}
			}
			if _, dup := bound[arg.key]; dup {
				return nil, &SyntaxError{Expr: expr, Offset: arg.offset, Reason: "duplicate argument " + arg.key}
			}
			bound[arg.key] = arg
			continue
		}
		for pos < len(names) {
			if _, taken := bound[names[pos]]; !taken {
				break
			}
			pos++
		}
		if pos >= len(names) {
			return nil, &SyntaxError{Expr: expr, Offset: arg.offset, Reason: "too many arguments to " + c.fn}
		}
		// The suffix slot only takes **digits tokens; anything else moves on to name.
		if names[pos] == "suffix" && (arg.quoted || !strings.HasPrefix(arg.value, "**")) {
			pos++
			if _, taken := bound[names[pos]]; taken {
				return nil, &SyntaxError{Expr: expr, Offset: arg.offset, Reason: "too many arguments to " + c.fn}
			}
		}
		bound[names[pos]] = arg
		pos++
	}
	return bound, nil
}

func contains(list []string, s string) bool {
	for _, item := range list {
		if item == s {
			return true
		}
	}
	return false
}
