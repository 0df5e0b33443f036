// Package strpool interns strings so that equal strings returned to callers
// share one backing copy that lives as long as the pool.
package strpool

import (
	"strings"

	"github.com/cespare/xxhash/v2"
)

// DefaultCapacity is the bucket count used by bml sessions.
const DefaultCapacity = 25

// Pool is a fixed-bucket hash set of canonical strings. It never rehashes and
// is not safe for concurrent use.
type Pool struct {
	buckets [][]string
	count   int
}

// New creates a pool with the given number of buckets.
func New(capacity int) *Pool {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Pool{buckets: make([][]string, capacity)}
}

func (p *Pool) bucket(key string) int {
	return int(xxhash.Sum64String(key) % uint64(len(p.buckets)))
}

// Intern returns the canonical copy of key, storing a private copy on first
// sight. Repeated calls with equal content return the identical string. A
// nil pool returns key unchanged.
func (p *Pool) Intern(key string) string {
	if p == nil {
		return key
	}
	i := p.bucket(key)
	for _, s := range p.buckets[i] {
		if s == key {
			return s
		}
	}
	s := strings.Clone(key)
	p.buckets[i] = append(p.buckets[i], s)
	p.count++
	return s
}

// Exists reports whether key has been interned.
func (p *Pool) Exists(key string) bool {
	if p == nil {
		return false
	}
	for _, s := range p.buckets[p.bucket(key)] {
		if s == key {
			return true
		}
	}
	return false
}

// Count returns the number of distinct strings in the pool.
func (p *Pool) Count() int {
	if p == nil {
		return 0
	}
	return p.count
}

// Enum calls fn for every interned string until fn returns false. Order is
// unspecified.
func (p *Pool) Enum(fn func(s string) bool) {
	if p == nil {
		return
	}
	for _, b := range p.buckets {
		for _, s := range b {
			if !fn(s) {
				return
			}
		}
	}
}

// Reset drops every interned string. Strings handed out earlier stay valid
// for their holders but are no longer canonical.
func (p *Pool) Reset() {
	if p == nil {
		return
	}
	for i := range p.buckets {
		p.buckets[i] = nil
	}
	p.count = 0
}
