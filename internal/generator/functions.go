package generator

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/google/uuid"
)

const (
	alphanumeric    = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"
	maxStringLength = 1 << 20
	// maxScaledDigits keeps scaled float bounds inside int64.
	maxScaledDigits = 18
)

func compileCall(expr string, rc *rawCall) (*call, error) {
	args, err := bind(expr, rc)
	if err != nil {
		return nil, err
	}
	c := &call{fn: rc.fn}
	if name, ok := args["name"]; ok {
		if name.value == "" {
			return nil, &SyntaxError{Expr: expr, Offset: name.offset, Reason: "empty name"}
		}
		c.name = name.value
	}

	switch rc.fn {
	case fnString:
		c.gen, err = compileString(expr, rc, args)
	case fnInt:
		c.gen, err = compileInt(expr, rc, args)
	case fnFloat:
		c.gen, err = compileFloat(expr, rc, args)
	case fnUUID:
		c.gen = func(*Generator) (string, error) {
			id, err := uuid.NewRandom()
			if err != nil {
				return "", fmt.Errorf("generate uuid: %w", err)
			}
			return id.String(), nil
		}
	case fnDatetime:
		c.gen, err = compileDatetime(args)
	}
	if err != nil {
		return nil, err
	}
	return c, nil
}

func required(expr string, rc *rawCall, args map[string]rawArg, names ...string) error {
	var missing []string
	for _, name := range names {
		if _, ok := args[name]; !ok {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		return &SyntaxError{Expr: expr, Offset: rc.offset, Reason: fmt.Sprintf("%s requires %s", rc.fn, strings.Join(missing, ", "))}
	}
	return nil
}

func intArg(expr, fn string, arg rawArg) (int64, error) {
	n, err := strconv.ParseInt(strings.TrimSpace(arg.value), 10, 64)
	if err != nil {
		return 0, &SyntaxError{Expr: expr, Offset: arg.offset, Reason: fmt.Sprintf("%s: %q is not an integer", fn, arg.value)}
	}
	return n, nil
}

func compileString(expr string, rc *rawCall, args map[string]rawArg) (func(*Generator) (string, error), error) {
	if err := required(expr, rc, args, "length"); err != nil {
		return nil, err
	}
	length, err := intArg(expr, rc.fn, args["length"])
	if err != nil {
		return nil, err
	}
	if length <= 0 {
		return nil, validationf(rc.fn, "length must be positive, got %d", length)
	}
	if length > maxStringLength {
		return nil, validationf(rc.fn, "length must not exceed %d", maxStringLength)
	}
	n := int(length)
	return func(g *Generator) (string, error) {
		buf := make([]byte, n)
		for i := range buf {
			buf[i] = alphanumeric[g.intn(len(alphanumeric))]
		}
		return string(buf), nil
	}, nil
}

func compileInt(expr string, rc *rawCall, args map[string]rawArg) (func(*Generator) (string, error), error) {
	if err := required(expr, rc, args, "min", "max"); err != nil {
		return nil, err
	}
	lo, err := intArg(expr, rc.fn, args["min"])
	if err != nil {
		return nil, err
	}
	hi, err := intArg(expr, rc.fn, args["max"])
	if err != nil {
		return nil, err
	}
	if lo > hi {
		return nil, validationf(rc.fn, "min %d is greater than max %d", lo, hi)
	}
	span := hi - lo + 1
	if span <= 0 {
		return nil, validationf(rc.fn, "range [%d, %d] is too large", lo, hi)
	}
	return func(g *Generator) (string, error) {
		return strconv.FormatInt(lo+g.int63n(span), 10), nil
	}, nil
}

// floatSpace describes the candidate values of a randomFloat call in integer
// units of 10^-decimals: non-negative candidates start at pos and negative
// candidates (stored as magnitudes) start at neg, both stepping by step.
type floatSpace struct {
	decimals int
	step     int64
	pos      int64
	posCount int64
	neg      int64
	negCount int64
}

func (f floatSpace) pick(g *Generator) int64 {
	r := g.int63n(f.posCount + f.negCount)
	if r < f.posCount {
		return f.pos + r*f.step
	}
	return -(f.neg + (r-f.posCount)*f.step)
}

// candidates returns the first value >= a and the count of values in [a, b]
// congruent to suffix modulo step.
func candidates(a, b, step, suffix int64) (int64, int64) {
	if a > b {
		return 0, 0
	}
	first := a + ((suffix-a%step)%step+step)%step
	if first > b {
		return 0, 0
	}
	return first, (b-first)/step + 1
}

func compileFloat(expr string, rc *rawCall, args map[string]rawArg) (func(*Generator) (string, error), error) {
	if err := required(expr, rc, args, "min", "max", "decimals"); err != nil {
		return nil, err
	}
	decimals64, err := intArg(expr, rc.fn, args["decimals"])
	if err != nil {
		return nil, err
	}
	if decimals64 < 0 || decimals64 > 15 {
		return nil, validationf(rc.fn, "decimals must be between 0 and 15, got %d", decimals64)
	}
	decimals := int(decimals64)

	minText, maxText := args["min"].value, args["max"].value
	minExact, err := parseScaled(minText, decimals, true)
	if err != nil {
		return nil, floatArgError(expr, rc.fn, args["min"], err)
	}
	maxExact, err := parseScaled(maxText, decimals, false)
	if err != nil {
		return nil, floatArgError(expr, rc.fn, args["max"], err)
	}
	if lessDecimal(maxText, minText) {
		return nil, validationf(rc.fn, "min %s is greater than max %s", minText, maxText)
	}
	if minExact > maxExact {
		return nil, validationf(rc.fn, "no value with %d decimals lies in [%s, %s]", decimals, minText, maxText)
	}

	var suffix, step int64 = 0, 1
	if s, ok := args["suffix"]; ok {
		digits := strings.TrimPrefix(strings.TrimSpace(s.value), "**")
		if digits == "" || strings.Trim(digits, "0123456789") != "" {
			return nil, &SyntaxError{Expr: expr, Offset: s.offset, Reason: fmt.Sprintf("%s: suffix %q must be **digits", rc.fn, s.value)}
		}
		if len(digits) > decimals {
			return nil, validationf(rc.fn, "suffix %s is longer than %d decimals", digits, decimals)
		}
		suffix, _ = strconv.ParseInt(digits, 10, 64)
		step = pow10(len(digits))
	}

	space := floatSpace{decimals: decimals, step: step}
	if maxExact >= 0 {
		space.pos, space.posCount = candidates(max(minExact, 0), maxExact, step, suffix)
	}
	if minExact < 0 {
		space.neg, space.negCount = candidates(-min(maxExact, -1), -minExact, step, suffix)
	}
	if space.posCount+space.negCount == 0 {
		return nil, validationf(rc.fn, "no value in [%s, %s] ends with %0*d", minText, maxText, len(strconv.FormatInt(step, 10))-1, suffix)
	}
	return func(g *Generator) (string, error) {
		return formatScaled(space.pick(g), space.decimals), nil
	}, nil
}

type scaleError struct{ reason string }

func (e *scaleError) Error() string { return e.reason }

func floatArgError(expr, fn string, arg rawArg, err error) error {
	if se, ok := err.(*scaleError); ok && se.reason == "out of range" {
		return validationf(fn, "%s is out of range", arg.value)
	}
	return &SyntaxError{Expr: expr, Offset: arg.offset, Reason: fmt.Sprintf("%s: %q is not a number", fn, arg.value)}
}

// splitDecimal breaks a decimal literal into sign, integer digits and
// fraction digits.
func splitDecimal(text string) (neg bool, intPart, frac string, err error) {
	s := strings.TrimSpace(text)
	if s == "" {
		return false, "", "", &scaleError{"empty"}
	}
	switch s[0] {
	case '-':
		neg = true
		s = s[1:]
	case '+':
		s = s[1:]
	}
	intPart, frac, _ = strings.Cut(s, ".")
	if intPart == "" && frac == "" {
		return false, "", "", &scaleError{"empty"}
	}
	for _, part := range []string{intPart, frac} {
		if strings.Trim(part, "0123456789") != "" {
			return false, "", "", &scaleError{"not a number"}
		}
	}
	intPart = strings.TrimLeft(intPart, "0")
	return neg, intPart, frac, nil
}

// parseScaled converts a decimal literal to integer units of 10^-decimals,
// rounding up (ceil) or down (floor) when it has more fraction digits.
func parseScaled(text string, decimals int, roundUp bool) (int64, error) {
	neg, intPart, frac, err := splitDecimal(text)
	if err != nil {
		return 0, err
	}
	if len(intPart)+decimals > maxScaledDigits {
		return 0, &scaleError{"out of range"}
	}
	remainder := false
	if len(frac) > decimals {
		remainder = strings.Trim(frac[decimals:], "0") != ""
		frac = frac[:decimals]
	}
	frac += strings.Repeat("0", decimals-len(frac))
	digits := intPart + frac
	var v int64
	if digits != "" {
		v, err = strconv.ParseInt(digits, 10, 64)
		if err != nil {
			return 0, &scaleError{"out of range"}
		}
	}
	if neg {
		v = -v
	}
	if remainder {
		if roundUp && !neg {
			v++
		}
		if !roundUp && neg {
			v--
		}
	}
	return v, nil
}

// lessDecimal reports whether decimal literal a is strictly less than b.
func lessDecimal(a, b string) bool {
	return compareDecimal(a, b) < 0
}

func compareDecimal(a, b string) int {
	an, ai, af, _ := splitDecimal(a)
	bn, bi, bf, _ := splitDecimal(b)
	af = strings.TrimRight(af, "0")
	bf = strings.TrimRight(bf, "0")
	if ai == "" && af == "" {
		an = false
	}
	if bi == "" && bf == "" {
		bn = false
	}
	if an != bn {
		if an {
			return -1
		}
		return 1
	}
	mag := compareMagnitude(ai, af, bi, bf)
	if an {
		return -mag
	}
	return mag
}

func compareMagnitude(ai, af, bi, bf string) int {
	if len(ai) != len(bi) {
		if len(ai) < len(bi) {
			return -1
		}
		return 1
	}
	if c := strings.Compare(ai, bi); c != 0 {
		return c
	}
	width := len(af)
	if len(bf) > width {
		width = len(bf)
	}
	af += strings.Repeat("0", width-len(af))
	bf += strings.Repeat("0", width-len(bf))
	return strings.Compare(af, bf)
}

func formatScaled(v int64, decimals int) string {
	sign := ""
	if v < 0 {
		sign = "-"
		v = -v
	}
	if decimals == 0 {
		return sign + strconv.FormatInt(v, 10)
	}
	scale := pow10(decimals)
	return fmt.Sprintf("%s%d.%0*d", sign, v/scale, decimals, v%scale)
}

func pow10(n int) int64 {
	v := int64(1)
	for i := 0; i < n; i++ {
		v *= 10
	}
	return v
}
