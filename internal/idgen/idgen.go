// Package idgen provides the identity-assignment primitive used by every
// Supervisor (§4.8 of the federation spec). A Generator returns a locally
// unique opaque string; Supervisors never assign identity themselves —
// they delegate to an injected Generator so tests can substitute a
// deterministic one.
package idgen

import "github.com/google/uuid"

// Generator mints locally-unique opaque identifiers.
type Generator interface {
	New() string
}

// UUIDGenerator is the production Generator, backed by google/uuid v4.
type UUIDGenerator struct{}

// New returns a new random UUID string.
func (UUIDGenerator) New() string {
	return uuid.NewString()
}

// Sequential is a deterministic Generator for tests: it returns
// prefix+"-1", prefix+"-2", ... in call order.
type Sequential struct {
	Prefix string
	n      int
}

// New returns the next sequential id.
func (s *Sequential) New() string {
	s.n++
	return s.Prefix + "-" + itoa(s.n)
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	var buf [20]byte
	i := len(buf)
	neg := n < 0
	if neg {
		n = -n
	}
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}
