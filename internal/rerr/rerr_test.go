package rerr

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGetCategory(t *testing.T) {
	err := NotFound("missing.telemetry", errors.New("no such file"))
	assert.Equal(t, CategoryNotFound, GetCategory(err))
	assert.Equal(t, Category(""), GetCategory(errors.New("plain error")))
}

func TestIs_MatchesByCategory(t *testing.T) {
	a := New(CategoryParse, "bad xml")
	b := New(CategoryParse, "different message, same category")
	c := New(CategoryIO, "unrelated")

	assert.True(t, errors.Is(a, b))
	assert.False(t, errors.Is(a, c))
}

func TestUnwrap_ExposesCause(t *testing.T) {
	cause := errors.New("disk full")
	err := IO("write output", cause)
	assert.ErrorIs(t, err, cause)
}

func TestError_FormatsWithAndWithoutCause(t *testing.T) {
	withCause := Wrap(CategoryIO, "read input", errors.New("eof"))
	assert.Contains(t, withCause.Error(), "IO")
	assert.Contains(t, withCause.Error(), "eof")

	withoutCause := Classification("file.xml")
	assert.Contains(t, withoutCause.Error(), "CLASSIFICATION")
	assert.NotContains(t, withoutCause.Error(), ": <nil>")
}
