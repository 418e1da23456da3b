package broker

import (
	"slices"
	"strconv"

	lru "github.com/hashicorp/golang-lru/v2"
)

type historySample struct {
	seq     uint64
	key     []byte
	payload []byte
}

// history keeps what a transient-local writer replays to late joiners.
// Unkeyed writers keep their last depth samples; keyed writers keep the
// last sample of the depth most recently written instances.
type history struct {
	keyed   bool
	samples *lru.Cache[string, historySample]
}

func newHistory(depth int, keyed bool) *history {
	// lru.New only fails for a non-positive size
	samples, err := lru.New[string, historySample](max(depth, 1))
	if err != nil {
		panic(err)
	}
	return &history{keyed: keyed, samples: samples}
}

func (h *history) add(s historySample) {
	id := strconv.FormatUint(s.seq, 10)
	if h.keyed {
		id = string(s.key)
	}
	h.samples.Add(id, s)
}

// snapshot returns the retained samples in sequence order.
func (h *history) snapshot() []historySample {
	out := h.samples.Values()
	slices.SortFunc(out, func(a, b historySample) int {
		switch {
		case a.seq < b.seq:
			return -1
		case a.seq > b.seq:
			return 1
		}
		return 0
	})
	return out
}

func (h *history) size() int {
	return h.samples.Len()
}
