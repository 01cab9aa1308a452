package litern

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestInterner_InternThenLookup(t *testing.T) {
	in := New(16)

	_, ok := in.Lookup("alt")
	assert.False(t, ok)

	in.Intern("alt", 0)
	idx, ok := in.Lookup("alt")
	assert.True(t, ok)
	assert.Equal(t, 0, idx)

	assert.Equal(t, 1, in.Len())
}

func TestInterner_UnknownNameNeverFoundEvenWithOthersInterned(t *testing.T) {
	in := New(16)
	for i, name := range []string{"alt", "lat", "lon", "mode"} {
		in.Intern(name, i)
	}

	_, ok := in.Lookup("speed")
	assert.False(t, ok, "a name never interned is not found, even if the bloom filter reports a false positive")
}

func TestInterner_ManyDistinctNamesAllRoundTrip(t *testing.T) {
	in := New(256)
	names := make([]string, 0, 256)
	for i := 0; i < 256; i++ {
		name := fmt.Sprintf("field_%d", i)
		names = append(names, name)
		in.Intern(name, i)
	}

	for i, name := range names {
		idx, ok := in.Lookup(name)
		assert.True(t, ok)
		assert.Equal(t, i, idx)
	}
	assert.Equal(t, 256, in.Len())
}
