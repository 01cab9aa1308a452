package ingest

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTokenizeCSV_SplitsAndTrims(t *testing.T) {
	assert.Equal(t, []string{"1.0", "2.0", "3.0"}, TokenizeCSV(" 1.0, 2.0 ; 3.0 "))
	assert.Equal(t, []string{}, TokenizeCSV("   "))
}

func TestParseFiniteFloat(t *testing.T) {
	v, ok := ParseFiniteFloat(" 3.14 ")
	assert.True(t, ok)
	assert.InDelta(t, 3.14, v, 1e-9)

	_, ok = ParseFiniteFloat("not-a-number")
	assert.False(t, ok)

	_, ok = ParseFiniteFloat("Inf")
	assert.False(t, ok)

	_, ok = ParseFiniteFloat("NaN")
	assert.False(t, ok)
}

func TestSynthFieldNames(t *testing.T) {
	assert.Equal(t, []string{"#0", "#1", "#2"}, SynthFieldNames(3))
	assert.Equal(t, []string{}, SynthFieldNames(0))
	assert.Len(t, SynthFieldNames(MaxFields+10), MaxFields)
}

func TestDeriveEvent_ExcludesNameAndT(t *testing.T) {
	d := DeriveEvent([]Attr{
		{Key: "name", Value: "mode_change"},
		{Key: "t", Value: "1700000000"},
		{Key: "from", Value: "idle"},
		{Key: "to", Value: "armed"},
	}, "")

	assert.Equal(t, "mode_change", d.Name)
	assert.Equal(t, []string{"from", "to"}, d.Keys)
	assert.Equal(t, []string{"idle", "armed"}, d.Values)
}

func TestDeriveEvent_DefaultsNameAndAppendsText(t *testing.T) {
	d := DeriveEvent([]Attr{{Key: "code", Value: "7"}}, "  diagnostic text  ")

	assert.Equal(t, "event", d.Name)
	assert.Equal(t, []string{"code", "text"}, d.Keys)
	assert.Equal(t, []string{"7", "diagnostic text"}, d.Values)
}
