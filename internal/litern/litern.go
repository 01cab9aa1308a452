// Package litern provides the encoder's in-process literal interning
// fast path (domain-stack addition D4). The wire format always inlines
// every literal (field/event/JSO name) regardless of any internal dedup
// table, so this package never changes what gets written — it only
// answers "have we already seen this literal, and if so at what index"
// faster than a bare map probe in the common case, by gating the exact
// lookup behind a murmur3-backed bloom filter the same way
// internal/bloom gates unnecessary storage round-trips elsewhere.
package litern

import "github.com/arkilian/apxtlm-repack/internal/bloom"

// Interner tracks declared-literal -> index mappings (field names, event
// names) with a bloom-filter front door. A Contains() miss proves the
// literal is new without touching the exact map; a hit still falls
// through to the map, which is authoritative (the filter only ever
// produces false positives, never false negatives).
type Interner struct {
	filter *bloom.BloomFilter
	exact  map[string]int
}

// New creates an Interner sized for the given expected number of
// distinct literals (e.g. MaxFields or MaxEvents).
func New(expected int) *Interner {
	return &Interner{
		filter: bloom.NewWithEstimates(expected, 0.01),
		exact:  make(map[string]int, expected),
	}
}

// Lookup returns the declared index for name and true if name was
// already interned.
func (in *Interner) Lookup(name string) (int, bool) {
	if !in.filter.Contains([]byte(name)) {
		return 0, false
	}
	idx, ok := in.exact[name]
	return idx, ok
}

// Intern records name -> index. Callers must ensure name is not already
// interned (the wire declaration itself is the source of truth for
// uniqueness; this structure is a cache, not an enforcement mechanism).
func (in *Interner) Intern(name string, index int) {
	in.filter.Add([]byte(name))
	in.exact[name] = index
}

// Len returns the number of interned literals.
func (in *Interner) Len() int {
	return len(in.exact)
}
