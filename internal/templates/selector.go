package templates

import (
	"fmt"
	"math/rand/v2"
	"sync/atomic"
)

// Mode selects how the next template is chosen.
type Mode string

const (
	SelectRoundRobin Mode = "round-robin"
	SelectRandom     Mode = "random"
)

// ParseMode validates a selection mode name. Empty means round-robin.
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case "", SelectRoundRobin:
		return SelectRoundRobin, nil
	case SelectRandom:
		return SelectRandom, nil
	default:
		return "", fmt.Errorf("unknown template selection %q (use round-robin or random)", s)
	}
}

// Selector hands out indexes into a fixed list of n items. Safe for
// concurrent use.
type Selector struct {
	mode Mode
	n    int
	next atomic.Uint64
}

// NewSelector creates a selector over n items.
func NewSelector(n int, mode Mode) *Selector {
	if n < 1 {
		n = 1
	}
	return &Selector{
		mode: mode,
		n:    n,
	}
}

// Next returns the index of the item to use.
func (s *Selector) Next() int {
	if s.n == 1 {
		return 0
	}
	if s.mode == SelectRandom {
		return rand.IntN(s.n)
	}
	return int((s.next.Add(1) - 1) % uint64(s.n))
}
