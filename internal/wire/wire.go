// Package wire defines the two peer-to-peer message shapes exchanged
// by the epidemic engine and the (peer, seq) deduplication window
// every receiver must apply before acting on one.
package wire

import (
	"container/list"
	"sync"

	"github.com/aegismesh/sentrynode/internal/storetypes"
	"github.com/aegismesh/sentrynode/internal/vectorclock"
)

// DigestEntry summarizes one locally-held entry without its payload,
// enough for a peer to decide whether it needs the full record.
type DigestEntry struct {
	ID        string
	Clock     *vectorclock.Clock
	ProofHash [32]byte
}

// Digest is pushed during gossip and exchanged during anti-entropy.
type Digest struct {
	FromPeer string
	Seq      uint64
	Entries  []DigestEntry
}

// Transfer carries full entries, either pulled in response to a
// digest or pushed proactively for replication-factor maintenance.
type Transfer struct {
	FromPeer string
	Seq      uint64
	Entries  []*storetypes.BlindedEntry
}

// Deduper rejects messages already seen from a given peer, keyed by
// (peer, seq), bounded to a fixed number of remembered keys evicted in
// least-recently-seen order — the same map+container/list combination
// used for bounded LRU membership elsewhere in this module.
type Deduper struct {
	mu       sync.Mutex
	seen     map[string]*list.Element
	order    *list.List
	capacity int
}

// NewDeduper builds a Deduper remembering up to capacity keys.
func NewDeduper(capacity int) *Deduper {
	if capacity <= 0 {
		capacity = 4096
	}
	return &Deduper{
		seen:     make(map[string]*list.Element),
		order:    list.New(),
		capacity: capacity,
	}
}

// Seen reports whether (peer, seq) has already been observed, and
// records it if not.
func (d *Deduper) Seen(peer string, seq uint64) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	key := dedupKey(peer, seq)
	if elem, found := d.seen[key]; found {
		d.order.MoveToFront(elem)
		return true
	}
	elem := d.order.PushFront(key)
	d.seen[key] = elem
	if d.order.Len() > d.capacity {
		oldest := d.order.Back()
		if oldest != nil {
			d.order.Remove(oldest)
			delete(d.seen, oldest.Value.(string))
		}
	}
	return false
}

func dedupKey(peer string, seq uint64) string {
	b := make([]byte, 0, len(peer)+21)
	b = append(b, peer...)
	b = append(b, '#')
	return string(appendUint(b, seq))
}

func appendUint(b []byte, v uint64) []byte {
	if v == 0 {
		return append(b, '0')
	}
	var tmp [20]byte
	i := len(tmp)
	for v > 0 {
		i--
		tmp[i] = byte('0' + v%10)
		v /= 10
	}
	return append(b, tmp[i:]...)
}
