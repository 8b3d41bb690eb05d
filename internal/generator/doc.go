// Package generator evaluates the random-value expressions embedded in
// request templates.
//
// A string may contain any number of generator calls mixed with literal
// text:
//
//	order-randomString(8)-randomInt(1, 100, name="qty")
//
// The recognised functions are randomString, randomInt, randomFloat,
// randomUuid and randomDatetime. Arguments are positional or keyword
// (name=..., format=...), bare or quoted with single or double quotes.
//
// # Named values
//
// A call carrying a name is memoised in a [variables.Scope]: the first call
// with a given name generates and stores the value, later calls with the same
// name in the same scope return it unchanged. Only the call's value is
// memoised, never the literal text around it. Unnamed calls always produce a
// fresh value.
//
// # Compilation
//
// [Compile] parses a string once and validates every literal argument, so
// malformed expressions ([SyntaxError]) and impossible argument combinations
// ([ValidationError]) surface before any request is sent. The resulting
// [Expression] is immutable and may be evaluated concurrently with different
// scopes.
package generator
