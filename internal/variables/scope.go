// Package variables provides the per-request memory scope that holds named
// generated values.
package variables

// Scope maps a generator name to the value produced for it. A scope is
// created for one request resolution and discarded afterwards; it is used by
// a single goroutine and does not require mutex protection.
type Scope struct {
	values map[string]string
}

// NewScope creates an empty scope.
func NewScope() *Scope {
	return &Scope{values: make(map[string]string)}
}

// Recall returns the value remembered under name. Returns ("", false) if the
// name has not been generated in this scope.
func (s *Scope) Recall(name string) (string, bool) {
	if s == nil {
		return "", false
	}
	value, ok := s.values[name]
	return value, ok
}

// Remember stores value under name, replacing any previous value.
func (s *Scope) Remember(name, value string) {
	if s == nil {
		return
	}
	if s.values == nil {
		s.values = make(map[string]string)
	}
	s.values[name] = value
}

// Len reports how many names the scope holds.
func (s *Scope) Len() int {
	if s == nil {
		return 0
	}
	return len(s.values)
}

// Snapshot returns a copy of all remembered values.
func (s *Scope) Snapshot() map[string]string {
	result := make(map[string]string, s.Len())
	if s == nil {
		return result
	}
	for key, value := range s.values {
		result[key] = value
	}
	return result
}
