package profiles

import "time"

// ringCapacity bounds the per-identity timestamp history. The rate window
// only needs enough history to cover itself; anything older is overwritten.
const ringCapacity = 256

// rateRing is a fixed-size ring of event timestamps used for request-rate
// estimation. Not safe for concurrent use; callers hold the shard lock.
type rateRing struct {
	buf  [ringCapacity]time.Time
	next int
	size int
}

func (r *rateRing) Add(t time.Time) {
	r.buf[r.next] = t
	r.next = (r.next + 1) % ringCapacity
	if r.size < ringCapacity {
		r.size++
	}
}

// CountSince returns how many recorded timestamps fall after the cutoff
func (r *rateRing) CountSince(cutoff time.Time) int {
	count := 0
	for i := 0; i < r.size; i++ {
		if r.buf[i].After(cutoff) {
			count++
		}
	}
	return count
}
