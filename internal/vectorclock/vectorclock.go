// Package vectorclock implements the per-peer logical counters used
// to order concurrent writes across the epidemic replication protocol.
package vectorclock

import (
	"encoding/json"
	"sort"
	"strings"
)

// Relation is the result of comparing two vector clocks.
type Relation int

const (
	// Equal means both clocks have identical counters everywhere.
	Equal Relation = iota
	// Before means the receiver happened causally before the argument.
	Before
	// After means the receiver happened causally after the argument.
	After
	// Concurrent means neither clock dominates the other.
	Concurrent
)

func (r Relation) String() string {
	switch r {
	case Before:
		return "before"
	case After:
		return "after"
	case Concurrent:
		return "concurrent"
	default:
		return "equal"
	}
}

// Clock maps peer id to a monotonic logical counter. The zero value
// is a valid, empty clock. Missing entries default to 0.
type Clock struct {
	counters map[string]uint64
}

// New returns an empty clock.
func New() *Clock {
	return &Clock{counters: make(map[string]uint64)}
}

// WithPeer returns a clock containing a single peer's counter.
func WithPeer(peer string, value uint64) *Clock {
	c := New()
	c.counters[peer] = value
	return c
}

// Inc increments the counter for peer, creating it at 1 if absent.
func (c *Clock) Inc(peer string) {
	if c.counters == nil {
		c.counters = make(map[string]uint64)
	}
	c.counters[peer]++
}

// Get returns the counter for peer, or 0 if the peer is unknown to this clock.
func (c *Clock) Get(peer string) uint64 {
	if c == nil || c.counters == nil {
		return 0
	}
	return c.counters[peer]
}

// Set assigns an exact counter value for peer.
func (c *Clock) Set(peer string, value uint64) {
	if c.counters == nil {
		c.counters = make(map[string]uint64)
	}
	c.counters[peer] = value
}

// Clone returns a deep copy so callers can mutate without aliasing the original.
func (c *Clock) Clone() *Clock {
	out := New()
	if c == nil {
		return out
	}
	for k, v := range c.counters {
		out.counters[k] = v
	}
	return out
}

// Merge folds other into c, taking the pointwise maximum of every counter.
func (c *Clock) Merge(other *Clock) {
	if other == nil {
		return
	}
	if c.counters == nil {
		c.counters = make(map[string]uint64)
	}
	for peer, v := range other.counters {
		if v > c.counters[peer] {
			c.counters[peer] = v
		}
	}
}

// Compare determines the causal relationship between c and other.
// It early-exits as soon as both a strictly-greater and a
// strictly-lesser component have been observed (Concurrent).
func (c *Clock) Compare(other *Clock) Relation {
	selfGT, otherGT := false, false

	for peer, selfVal := range c.counters {
		otherVal := other.Get(peer)
		switch {
		case selfVal > otherVal:
			selfGT = true
		case selfVal < otherVal:
			otherGT = true
		}
		if selfGT && otherGT {
			return Concurrent
		}
	}

	for peer, otherVal := range other.counters {
		if _, known := c.counters[peer]; !known && otherVal > 0 {
			otherGT = true
		}
		if selfGT && otherGT {
			return Concurrent
		}
	}

	switch {
	case selfGT && !otherGT:
		return After
	case otherGT && !selfGT:
		return Before
	case selfGT && otherGT:
		return Concurrent
	default:
		return Equal
	}
}

// Dominates reports whether c is After or Equal to other.
func (c *Clock) Dominates(other *Clock) bool {
	rel := c.Compare(other)
	return rel == After || rel == Equal
}

// HappenedBefore reports whether c is strictly Before other.
func (c *Clock) HappenedBefore(other *Clock) bool {
	return c.Compare(other) == Before
}

// String renders a stable, sorted textual form for logging.
func (c *Clock) String() string {
	if c == nil || len(c.counters) == 0 {
		return "{}"
	}
	peers := make([]string, 0, len(c.counters))
	for p := range c.counters {
		peers = append(peers, p)
	}
	sort.Strings(peers)

	var b strings.Builder
	b.WriteByte('{')
	for i, p := range peers {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(p)
		b.WriteByte(':')
		b.WriteString(itoa(c.counters[p]))
	}
	b.WriteByte('}')
	return b.String()
}

func itoa(v uint64) string {
	b, _ := json.Marshal(v)
	return string(b)
}

// MarshalJSON serializes the clock as a flat peer->counter object, the
// shape used on the wire and in the durable store.
func (c *Clock) MarshalJSON() ([]byte, error) {
	if c == nil || c.counters == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(c.counters)
}

// UnmarshalJSON restores a clock from its flat peer->counter object form.
func (c *Clock) UnmarshalJSON(data []byte) error {
	m := make(map[string]uint64)
	if err := json.Unmarshal(data, &m); err != nil {
		return err
	}
	c.counters = m
	return nil
}

// Peers returns the set of peer ids with a nonzero counter, for digest construction.
func (c *Clock) Peers() []string {
	if c == nil {
		return nil
	}
	out := make([]string, 0, len(c.counters))
	for p, v := range c.counters {
		if v > 0 {
			out = append(out, p)
		}
	}
	sort.Strings(out)
	return out
}
