// Package datalink implements the SAX-style state machine for the
// "datalink" dialect (component C6): <mandala time_ms|UTC><fields/>
// <S/><D/><event/><evt/>...</mandala>.
package datalink

import (
	"context"
	"encoding/json"
	"encoding/xml"
	"fmt"
	"io"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/arkilian/apxtlm-repack/internal/ingest"
	"github.com/arkilian/apxtlm-repack/internal/info"
	"github.com/arkilian/apxtlm-repack/internal/jsonvalue"
	"github.com/arkilian/apxtlm-repack/internal/rerr"
	"github.com/arkilian/apxtlm-repack/pkg/apxtlm"
)

const year2000MS = 946684800000

// rootDataTags are the mandala-level children the walker handles explicitly;
// anything else observed as a direct child of the root is a JSO
// candidate sub-tree.
var rootDataTags = map[string]bool{
	"S": true, "D": true, "event": true, "evt": true, "fields": true,
}

// Options configures a repack run.
type Options struct {
	UTCOffsetSec int32
	IncludeJSO   bool
}

// EventDecl is one declared event schema, in declaration order.
type EventDecl struct {
	Name string
	Keys []string
}

// Result summarizes one completed repack run, for catalog bookkeeping
// and checkpointing.
type Result struct {
	FieldCount  int
	EventCount  int
	SampleCount int
	Fields      []string
	Events      []EventDecl
}

// Repack reads the datalink XML file at path and writes an APXTLM
// stream to out. If ctx is cancelled mid-walk, the walk stops after the
// current row and the stream is still finalized with Stop(), leaving a
// valid (if truncated) prefix on disk.
func Repack(ctx context.Context, path string, out io.Writer, opts Options) (Result, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Result{}, rerr.NotFound(path, err)
		}
		return Result{}, rerr.IO("read input", err)
	}

	fi, err := os.Stat(path)
	if err != nil {
		return Result{}, rerr.IO("stat input", err)
	}

	baseMS := resolveBaseTimestamp(data, fi.ModTime())

	enc := apxtlm.New(out, uint64(baseMS), opts.UTCOffsetSec)
	if err := enc.EmitInfo(info.Build(info.Params{
		InputPath:    path,
		Format:       "datalink",
		TimestampMS:  uint64(baseMS),
		UTCOffsetSec: opts.UTCOffsetSec,
	})); err != nil {
		return Result{}, rerr.IO("emit info", err)
	}

	w := newWalker(enc, data, opts)
	if err := w.run(ctx); err != nil {
		return Result{}, rerr.Parse("datalink ingest", err)
	}
	if err := enc.Stop(); err != nil {
		return Result{}, rerr.IO("finalize output", err)
	}
	events := make([]EventDecl, 0, len(w.eventOrder))
	for _, name := range w.eventOrder {
		events = append(events, EventDecl{Name: name, Keys: w.eventKeys[name]})
	}
	return Result{
		FieldCount:  enc.FieldCount(),
		EventCount:  len(w.eventIndex),
		SampleCount: w.sampleCount,
		Fields:      w.fieldOrder,
		Events:      events,
	}, nil
}

// resolveBaseTimestamp reads the root element's time_ms or UTC
// attribute. A bare seconds-since-epoch value (1e9 <= v < 1e12) is
// normalized to milliseconds. A result earlier than 2000-01-01 UTC, or
// no usable attribute at all, falls back to the file's mtime.
func resolveBaseTimestamp(data []byte, mtime time.Time) int64 {
	dec := xml.NewDecoder(strings.NewReader(string(data)))
	tok, err := dec.Token()
	for err == nil {
		if start, ok := tok.(xml.StartElement); ok {
			if v := attrValue(start, "time_ms"); v != "" {
				if ms, err := strconv.ParseFloat(v, 64); err == nil {
					return normalizeBase(normalizeEpoch(ms), mtime)
				}
			}
			if v := attrValue(start, "UTC"); v != "" {
				if ms, err := strconv.ParseFloat(v, 64); err == nil {
					return normalizeBase(normalizeEpoch(ms), mtime)
				}
			}
			return mtime.UnixMilli()
		}
		tok, err = dec.Token()
	}
	return mtime.UnixMilli()
}

func normalizeEpoch(v float64) int64 {
	if v >= 1e9 && v < 1e12 {
		v *= 1000
	}
	return int64(v)
}

func normalizeBase(ms int64, mtime time.Time) int64 {
	if ms < year2000MS {
		return mtime.UnixMilli()
	}
	return ms
}

func attrValue(start xml.StartElement, name string) string {
	for _, a := range start.Attr {
		if a.Name.Local == name {
			return a.Value
		}
	}
	return ""
}

type walker struct {
	enc  *apxtlm.Encoder
	data []byte
	opts Options
	dec  *xml.Decoder

	nameToIndex map[string]int
	fieldOrder  []string
	fieldsDone  bool
	pendingCSV  []string

	eventIndex map[string]int
	eventOrder []string
	eventKeys  map[string][]string

	lastTS     uint32
	haveLastTS bool

	rootName    string
	sampleCount int
}

func newWalker(enc *apxtlm.Encoder, data []byte, opts Options) *walker {
	return &walker{
		enc:         enc,
		data:        data,
		opts:        opts,
		dec:         xml.NewDecoder(strings.NewReader(string(data))),
		nameToIndex: make(map[string]int),
		eventIndex:  make(map[string]int),
		eventKeys:   make(map[string][]string),
	}
}

func (w *walker) run(ctx context.Context) error {
	depth := 0
	inFields := false
	var fieldsText strings.Builder

	jsoCapturing := false
	var jsoTag string
	var jsoStart int64
	jsoDepth := 0

	for {
		if depth <= 1 {
			select {
			case <-ctx.Done():
				return nil
			default:
			}
		}
		offsetBefore := w.dec.InputOffset()
		tok, err := w.dec.Token()
		if err != nil {
			if err == io.EOF {
				break
			}
			return fmt.Errorf("xml: %w", err)
		}

		switch t := tok.(type) {
		case xml.StartElement:
			name := t.Name.Local
			depth++
			switch {
			case depth == 1:
				w.rootName = name
			case jsoCapturing:
				jsoDepth++
			case depth == 2 && name == "fields":
				inFields = true
				fieldsText.Reset()
			case depth == 2 && (name == "S" || name == "D"):
				if err := w.handleRow(t); err != nil {
					return err
				}
				depth--
			case depth == 2 && (name == "event" || name == "evt"):
				if err := w.handleEvent(t); err != nil {
					return err
				}
				depth--
			case depth == 2:
				jsoCapturing = true
				jsoTag = name
				jsoStart = offsetBefore
				jsoDepth = 1
			}

		case xml.CharData:
			if inFields {
				fieldsText.Write(t)
			}

		case xml.EndElement:
			name := t.Name.Local
			switch {
			case depth == 2 && name == "fields":
				inFields = false
				w.acceptFieldsText(fieldsText.String())
				depth--
			case jsoCapturing && name == jsoTag && jsoDepth == 1:
				end := w.dec.InputOffset()
				jsoCapturing = false
				if w.opts.IncludeJSO {
					w.emitJSOCapture(jsoTag, w.data[jsoStart:end])
				}
				depth--
			case jsoCapturing:
				jsoDepth--
				depth--
			default:
				depth--
			}
		}
	}
	return nil
}

func (w *walker) acceptFieldsText(text string) {
	toks := ingest.TokenizeCSV(text)
	if len(toks) > 0 {
		w.pendingCSV = toks
	}
}

func (w *walker) ensureFieldsDeclared(hint int) {
	if w.fieldsDone {
		return
	}
	names := w.pendingCSV
	if names == nil {
		names = ingest.SynthFieldNames(hint)
	}
	for _, name := range names {
		idx, ok := w.enc.DeclareField(name, nil)
		if !ok {
			break
		}
		w.nameToIndex[name] = idx
		w.fieldOrder = append(w.fieldOrder, name)
	}
	w.fieldsDone = true
}

func (w *walker) emitTimestamp(ms uint32) {
	if w.haveLastTS && w.lastTS == ms {
		return
	}
	w.enc.EmitTimestamp(ms)
	w.haveLastTS = true
	w.lastTS = ms
}

// handleRow handles an <S> or <D> CSV row: timestamp priority
// t -> ts -> time_ms -> UTC -> 0, then one downlink sample per column.
func (w *walker) handleRow(start xml.StartElement) error {
	tMS := rowTimestamp(start)

	var text strings.Builder
	if err := w.collectText(start.Name, &text); err != nil {
		return err
	}

	tokens := ingest.TokenizeCSV(text.String())
	w.ensureFieldsDeclared(len(tokens))
	w.emitTimestamp(tMS)

	n := len(tokens)
	if fc := w.enc.FieldCount(); n > fc {
		n = fc
	}
	for i := 0; i < n; i++ {
		v, ok := ingest.ParseFiniteFloat(tokens[i])
		if !ok {
			continue
		}
		if err := w.enc.EmitSample(i, v, false); err != nil {
			return err
		}
		w.sampleCount++
	}
	return nil
}

func rowTimestamp(start xml.StartElement) uint32 {
	for _, key := range []string{"t", "ts", "time_ms", "UTC"} {
		if v := attrValue(start, key); v != "" {
			if f, err := strconv.ParseFloat(v, 64); err == nil && f >= 0 {
				return uint32(normalizeEpoch(f) % (1 << 32))
			}
		}
	}
	return 0
}

func (w *walker) handleEvent(start xml.StartElement) error {
	tMS := rowTimestamp(start)
	attrs := make([]ingest.Attr, 0, len(start.Attr))
	for _, a := range start.Attr {
		attrs = append(attrs, ingest.Attr{Key: a.Name.Local, Value: a.Value})
	}

	var text strings.Builder
	if err := w.collectText(start.Name, &text); err != nil {
		return err
	}
	derived := ingest.DeriveEvent(attrs, text.String())

	idx, ok := w.eventIndex[derived.Name]
	if !ok {
		var err error
		idx, err = w.enc.DeclareEvent(derived.Name, derived.Keys)
		if err != nil {
			log.Printf("datalink: %v, dropping event %q", err, derived.Name)
			return nil
		}
		w.eventIndex[derived.Name] = idx
		w.eventOrder = append(w.eventOrder, derived.Name)
		w.eventKeys[derived.Name] = derived.Keys
	}

	w.emitTimestamp(tMS)
	return w.enc.EmitEvent(idx, derived.Values)
}

func (w *walker) collectText(name xml.Name, buf *strings.Builder) error {
	depth := 1
	for {
		tok, err := w.dec.Token()
		if err != nil {
			return fmt.Errorf("xml: %w", err)
		}
		switch t := tok.(type) {
		case xml.CharData:
			buf.Write(t)
		case xml.StartElement:
			if t.Name.Local == name.Local {
				depth++
			}
		case xml.EndElement:
			if t.Name.Local == name.Local {
				depth--
				if depth == 0 {
					return nil
				}
			}
		}
	}
}

// emitJSOCapture mirrors internal/ingest/telemetry's re-parse-and-skip
// behavior for JSO_REPARSE failures. Tags in rootDataTags (S, D, event,
// evt, fields) are handled directly by run() and are never emitted here.
func (w *walker) emitJSOCapture(tag string, raw []byte) {
	if rootDataTags[tag] {
		return
	}

	val, err := jsonvalue.XMLToValue(raw)
	if err != nil {
		log.Printf("datalink: jso reparse failed for <%s>: %v", tag, err)
		return
	}

	name := tag
	payload := val
	if inner, ok := val[tag].(map[string]interface{}); ok {
		if normalized, ok := jsonvalue.TryNormalizeNodes(inner); ok {
			name = "nodes"
			payload = normalized
		}
	}

	blob, err := json.Marshal(payload)
	if err != nil {
		log.Printf("datalink: jso marshal failed for <%s>: %v", tag, err)
		return
	}
	if err := w.enc.EmitJSO(name, blob); err != nil {
		log.Printf("datalink: jso emit failed for <%s>: %v", tag, err)
	}
}
