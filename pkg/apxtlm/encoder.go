// Package apxtlm implements the APXTLM binary encoder (component C3):
// a streaming writer that emits a fixed header, a prelude of dictionary
// declarations, and a time-ordered interleaving of timestamp markers,
// numeric samples, direction markers, events, and embedded JSON/raw
// payloads, terminated by a single stop byte.
//
// The encoder performs no XML parsing and knows nothing about either
// source dialect; it is driven entirely by explicit calls from the
// ingest state machines in internal/ingest/telemetry and
// internal/ingest/datalink.
package apxtlm

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/arkilian/apxtlm-repack/internal/litern"
	"github.com/arkilian/apxtlm-repack/pkg/bitio"
	"github.com/arkilian/apxtlm-repack/pkg/halffloat"
)

// MaxFields is the maximum number of declared fields (declaredFields <= 2048).
const MaxFields = 2048

// MaxEvents is the maximum number of declared event schemas (u8 index).
const MaxEvents = 256

// FieldDecl describes a declared numeric channel.
type FieldDecl struct {
	Name string
	Aux  []string
}

// EventSchema describes a declared event type.
type EventSchema struct {
	Name string
	Keys []string
}

const (
	// Downlink is telemetry from the unit (the default direction).
	Downlink = 0
	// Uplink is a command toward the unit.
	Uplink = 1
)

type cachedValue struct {
	bits uint32 // math.Float32bits representation
	set  bool
}

// Encoder emits a single APXTLM stream to w. It is not safe for concurrent
// use; the system is single-threaded and strictly sequential by design.
type Encoder struct {
	w *bitio.Writer

	startTimestampMS uint64
	utcOffsetSeconds int32

	headerWritten bool
	infoWritten   bool
	stopped       bool

	fields     []FieldDecl
	fieldIndex *litern.Interner

	events     []EventSchema
	eventIndex *litern.Interner

	// valueCache[dir][fieldIndex] is the last-emitted value for that
	// direction, partitioned so suppression in one direction never
	// affects the other.
	valueCache [2]map[int]cachedValue

	lastIndex int // last field index written within the current ts window; -1 = none
	haveLastTS bool
	lastTS     uint32
}

// New creates an Encoder writing to sink and immediately emits the
// 44-byte header — the header must be the very first thing in the
// stream, so there is no separate WriteHeader step to forget.
func New(sink io.Writer, startTimestampMS uint64, utcOffsetSeconds int32) *Encoder {
	e := &Encoder{
		w:                bitio.New(sink),
		startTimestampMS: startTimestampMS,
		utcOffsetSeconds: utcOffsetSeconds,
		fieldIndex:       litern.New(MaxFields),
		eventIndex:       litern.New(MaxEvents),
		lastIndex:        -1,
	}
	e.valueCache[Downlink] = make(map[int]cachedValue)
	e.valueCache[Uplink] = make(map[int]cachedValue)
	e.writeHeader()
	e.headerWritten = true
	return e
}

// Err returns the first I/O error the underlying writer encountered.
func (e *Encoder) Err() error {
	return e.w.Err()
}

// EmitInfo writes the embedded info JSON blob. It must be called exactly
// once, immediately after construction and before any field or event
// declaration. If info omits "timestamp" or "utc_offset", the header's
// values are substituted.
func (e *Encoder) EmitInfo(info map[string]interface{}) error {
	if e.infoWritten {
		return fmt.Errorf("apxtlm: info already written")
	}
	out := make(map[string]interface{}, len(info)+2)
	for k, v := range info {
		out[k] = v
	}
	if _, ok := out["timestamp"]; !ok {
		out["timestamp"] = uint32(e.startTimestampMS)
	}
	if _, ok := out["utc_offset"]; !ok {
		out["utc_offset"] = e.utcOffsetSeconds
	}

	payload, err := json.Marshal(out)
	if err != nil {
		return fmt.Errorf("apxtlm: marshal info: %w", err)
	}
	if err := e.emitJSONBlob("info", payload); err != nil {
		return err
	}
	e.infoWritten = true
	return e.w.Err()
}

// DeclareField appends a new field to the dictionary and emits its
// declaration record. Its index is the pre-call length of the field
// list. Duplicate declaration is not defended against here; callers must
// deduplicate. ok is false when the 2048-field cap has
// already been reached — per the DeclarationOverflow taxonomy this is
// silently capped, not an error: the caller should skip declaring (and
// therefore sampling) any further new fields.
func (e *Encoder) DeclareField(name string, aux []string) (index int, ok bool) {
	if len(e.fields) >= MaxFields {
		return 0, false
	}
	index = len(e.fields)
	e.fields = append(e.fields, FieldDecl{Name: name, Aux: aux})
	e.fieldIndex.Intern(name, index)

	e.w.U8(extOpcode(extField))
	e.w.CString(name)
	e.w.U8(uint8(len(aux)))
	for _, a := range aux {
		e.w.CString(a)
	}
	return index, true
}

// FieldIndex returns the declared index for name, if any.
func (e *Encoder) FieldIndex(name string) (int, bool) {
	return e.fieldIndex.Lookup(name)
}

// FieldCount returns the number of fields declared so far.
func (e *Encoder) FieldCount() int {
	return len(e.fields)
}

// DeclareEvent assigns the next event index (starting at 0) and emits the
// schema record. Returns an error once 256 distinct event schemas have
// already been declared — the wire format's u8 schema index has no
// overflow encoding of its own, so this implementation rejects the
// 257th distinct schema rather than silently corrupting that index.
func (e *Encoder) DeclareEvent(name string, keys []string) (index int, err error) {
	if len(e.events) >= MaxEvents {
		return 0, fmt.Errorf("apxtlm: event schema overflow: more than %d distinct event types", MaxEvents)
	}
	index = len(e.events)
	e.events = append(e.events, EventSchema{Name: name, Keys: keys})
	e.eventIndex.Intern(name, index)

	e.w.U8(extOpcode(extEvtID))
	e.w.CString(name)
	e.w.U8(uint8(len(keys)))
	for _, k := range keys {
		e.w.CString(k)
	}
	return index, nil
}

// EventIndex returns the declared index for name, if any.
func (e *Encoder) EventIndex(name string) (int, bool) {
	return e.eventIndex.Lookup(name)
}

// EmitTimestamp writes a ts marker and resets the last-index cache.
// Consecutive duplicate timestamps are suppressed (not re-emitted).
func (e *Encoder) EmitTimestamp(ms uint32) {
	if e.haveLastTS && e.lastTS == ms {
		e.lastIndex = -1
		return
	}
	e.w.U8(extOpcode(extTS))
	e.w.U32(ms)
	e.haveLastTS = true
	e.lastTS = ms
	e.lastIndex = -1
}

// EmitSample emits a numeric sample for fieldIndex in the given direction,
// following the sample-emission algorithm. value is narrowed to
// float32 before the cache comparison and wire encoding — the wire format
// never carries more than single precision for samples.
func (e *Encoder) EmitSample(fieldIndex int, value float64, uplink bool) error {
	if fieldIndex < 0 || fieldIndex >= len(e.fields) {
		return fmt.Errorf("apxtlm: sample field index %d >= declared field count %d", fieldIndex, len(e.fields))
	}

	dir := Downlink
	if uplink {
		dir = Uplink
	}

	v32 := float32(value)
	bits := float32Bits(v32)

	cache := e.valueCache[dir]
	if prev, ok := cache[fieldIndex]; ok && prev.set && float32BitsEqual(prev.bits, bits) {
		return nil
	}
	cache[fieldIndex] = cachedValue{bits: bits, set: true}

	if uplink {
		e.w.U8(extOpcode(extDir))
	}

	dspec := dspecF32
	if halffloat.RoundTrips(v32) {
		dspec = dspecF16
	}

	e.writeValueFraming(fieldIndex, dspec)

	if dspec == dspecF16 {
		e.w.F16(halffloat.ToBits(v32))
	} else {
		e.w.F32(bits)
	}
	e.lastIndex = fieldIndex
	return e.w.Err()
}

// writeValueFraming picks opt8 (one byte) framing when the new field
// index is within 7 past the last-written index in the current ts
// window, else long (two byte) framing.
func (e *Encoder) writeValueFraming(fieldIndex, dspec int) {
	if e.lastIndex >= 0 {
		delta := fieldIndex - e.lastIndex - 1
		if delta >= 0 && delta <= 7 {
			e.w.U8(0x10 | byte(delta<<5) | byte(dspec&0x0F))
			return
		}
	}
	e.w.U8(byte(fieldIndex&0x07)<<5 | byte(dspec&0x0F))
	e.w.U8(byte((fieldIndex >> 3) & 0xFF))
}

// EmitEvent writes an event instance for a previously declared schema
// index, with values parallel to that schema's key list.
func (e *Encoder) EmitEvent(schemaIndex int, values []string) error {
	if schemaIndex < 0 || schemaIndex >= len(e.events) {
		return fmt.Errorf("apxtlm: event schema index %d not declared", schemaIndex)
	}
	e.w.U8(extOpcode(extEvt))
	e.w.U8(uint8(schemaIndex))
	for _, v := range values {
		e.w.Literal(v)
	}
	return e.w.Err()
}

// EmitJSO emits a named JSON blob through the qCompress envelope.
func (e *Encoder) EmitJSO(name string, payload []byte) error {
	return e.emitJSONBlob(name, payload)
}

func (e *Encoder) emitJSONBlob(name string, payload []byte) error {
	e.w.U8(extOpcode(extJSO))
	e.w.Literal(name)
	if err := e.w.QCompressPayload(payload); err != nil {
		return fmt.Errorf("apxtlm: jso %q: %w", name, err)
	}
	return e.w.Err()
}

// EmitBlob chooses between raw and zip encoding for data under name,
// following the RAW vs ZIP selection rule: zip wins iff
// the qCompressed candidate is smaller than data.length+2. raw records
// larger than 65535 bytes are split into independent chunks sharing the
// same literal name, re-assembled by the (hypothetical) consumer by
// name-and-order.
func (e *Encoder) EmitBlob(name string, data []byte) error {
	zipped, err := bitio.QCompress(data)
	if err != nil {
		return fmt.Errorf("apxtlm: blob %q: %w", name, err)
	}

	if len(zipped) < len(data)+2 {
		e.w.U8(extOpcode(extZip))
		e.w.Literal(name)
		e.w.U32(uint32(len(zipped)))
		e.w.Raw(zipped)
		return e.w.Err()
	}

	const maxChunk = 65535
	if len(data) == 0 {
		e.w.U8(extOpcode(extRaw))
		e.w.Literal(name)
		e.w.U16(0)
		return e.w.Err()
	}
	for off := 0; off < len(data); off += maxChunk {
		end := off + maxChunk
		if end > len(data) {
			end = len(data)
		}
		chunk := data[off:end]
		e.w.U8(extOpcode(extRaw))
		e.w.Literal(name)
		e.w.U16(uint16(len(chunk)))
		e.w.Raw(chunk)
	}
	return e.w.Err()
}

// Stop writes the single stop byte and flushes the buffered sink. It
// must be called exactly once, as the last call on the encoder.
func (e *Encoder) Stop() error {
	if e.stopped {
		return nil
	}
	e.w.U8(extOpcode(extStop))
	e.stopped = true
	return e.w.Flush()
}
