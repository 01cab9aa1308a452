package apxtlm

import (
	"bytes"
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_WritesHeader(t *testing.T) {
	var buf bytes.Buffer
	e := New(&buf, 1_700_000_000_000, -18000)
	require.NoError(t, e.Stop())

	out := buf.Bytes()
	require.True(t, len(out) >= HeaderSize)
	assert.Equal(t, magic, string(out[0:6]))
	assert.Equal(t, FormatVersion, binary.LittleEndian.Uint16(out[16:18]))
	assert.Equal(t, uint16(HeaderSize), binary.LittleEndian.Uint16(out[18:20]))
	assert.Equal(t, uint64(1_700_000_000_000), binary.LittleEndian.Uint64(out[32:40]))
	assert.Equal(t, int32(-18000), int32(binary.LittleEndian.Uint32(out[40:44])))
}

func TestDeclareField_AssignsSequentialIndices(t *testing.T) {
	var buf bytes.Buffer
	e := New(&buf, 0, 0)

	i0, ok := e.DeclareField("alt", nil)
	require.True(t, ok)
	i1, ok := e.DeclareField("lat", []string{"deg"})
	require.True(t, ok)

	assert.Equal(t, 0, i0)
	assert.Equal(t, 1, i1)
	assert.Equal(t, 2, e.FieldCount())

	idx, ok := e.FieldIndex("lat")
	assert.True(t, ok)
	assert.Equal(t, 1, idx)

	_, ok = e.FieldIndex("unknown")
	assert.False(t, ok)
}

func TestDeclareField_CapsAtMaxFields(t *testing.T) {
	var buf bytes.Buffer
	e := New(&buf, 0, 0)
	for i := 0; i < MaxFields; i++ {
		_, ok := e.DeclareField(string(rune('a'))+itoa(i), nil)
		require.True(t, ok)
	}
	_, ok := e.DeclareField("one-too-many", nil)
	assert.False(t, ok)
}

func itoa(i int) string {
	if i == 0 {
		return "0"
	}
	var buf [20]byte
	pos := len(buf)
	for i > 0 {
		pos--
		buf[pos] = byte('0' + i%10)
		i /= 10
	}
	return string(buf[pos:])
}

func TestDeclareEvent_RejectsSchemaOverflow(t *testing.T) {
	var buf bytes.Buffer
	e := New(&buf, 0, 0)
	for i := 0; i < MaxEvents; i++ {
		_, err := e.DeclareEvent("evt"+itoa(i), []string{"k"})
		require.NoError(t, err)
	}
	_, err := e.DeclareEvent("one-too-many", []string{"k"})
	assert.Error(t, err)
}

func TestEventIndex_RoundTrips(t *testing.T) {
	var buf bytes.Buffer
	e := New(&buf, 0, 0)
	idx, err := e.DeclareEvent("mode_change", []string{"from", "to"})
	require.NoError(t, err)

	got, ok := e.EventIndex("mode_change")
	assert.True(t, ok)
	assert.Equal(t, idx, got)
}

func TestEmitSample_SuppressesRepeatedValuePerDirection(t *testing.T) {
	var buf bytes.Buffer
	e := New(&buf, 0, 0)
	idx, _ := e.DeclareField("alt", nil)
	e.EmitTimestamp(1000)
	require.NoError(t, e.w.Flush())

	before := buf.Len()
	require.NoError(t, e.EmitSample(idx, 100.0, false))
	require.NoError(t, e.w.Flush())
	afterFirst := buf.Len()
	assert.Greater(t, afterFirst, before)

	require.NoError(t, e.EmitSample(idx, 100.0, false))
	require.NoError(t, e.w.Flush())
	assert.Equal(t, afterFirst, buf.Len(), "repeated identical downlink value must be suppressed")

	require.NoError(t, e.EmitSample(idx, 100.0, true))
	require.NoError(t, e.w.Flush())
	assert.Greater(t, buf.Len(), afterFirst, "uplink direction has its own suppression cache")
}

func TestEmitSample_RejectsUndeclaredField(t *testing.T) {
	var buf bytes.Buffer
	e := New(&buf, 0, 0)
	err := e.EmitSample(0, 1.0, false)
	assert.Error(t, err)
}

func TestEmitInfo_OnlyOnce(t *testing.T) {
	var buf bytes.Buffer
	e := New(&buf, 0, 0)
	require.NoError(t, e.EmitInfo(map[string]interface{}{"format": "telemetry"}))
	assert.Error(t, e.EmitInfo(map[string]interface{}{"format": "telemetry"}))
}

func TestStop_IsIdempotent(t *testing.T) {
	var buf bytes.Buffer
	e := New(&buf, 0, 0)
	require.NoError(t, e.Stop())
	sizeAfterFirst := buf.Len()
	require.NoError(t, e.Stop())
	assert.Equal(t, sizeAfterFirst, buf.Len())
}

func TestEmitBlob_ChoosesZipForCompressibleData(t *testing.T) {
	var buf bytes.Buffer
	e := New(&buf, 0, 0)
	data := bytes.Repeat([]byte("aaaaaaaaaa"), 200)
	require.NoError(t, e.EmitBlob("payload", data))
	require.NoError(t, e.Stop())
	assert.Less(t, buf.Len(), len(data))
}
