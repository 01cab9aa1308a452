// Package telemetry implements the SAX-style state machine for the
// "telemetry" dialect (component C5): <telemetry><info/><fields/>
// <data><D/><E/><U/>...</data></telemetry>.
package telemetry

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

// year2000MS is 2000-01-01T00:00:00Z in Unix milliseconds — the floor
// below which a resolved timestamp is considered bad and the file's
// modification time is substituted instead ("Base
// timestamp").
const year2000MS = 946684800000

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

// Repack reads the telemetry XML file at path and writes an APXTLM
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
		Format:       "telemetry",
		TimestampMS:  uint64(baseMS),
		UTCOffsetSec: opts.UTCOffsetSec,
	})); err != nil {
		return Result{}, rerr.IO("emit info", err)
	}

	w := newWalker(enc, data, opts)
	if err := w.run(ctx); err != nil {
		return Result{}, rerr.Parse("telemetry ingest", err)
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

// resolveBaseTimestamp applies the base-timestamp resolution priority: <info
// time="…"> (ms), then <timestamp value="…"> (ISO date string),
// otherwise the file's modification time. A result earlier than
// 2000-01-01 UTC is replaced by mtime.
func resolveBaseTimestamp(data []byte, mtime time.Time) int64 {
	dec := xml.NewDecoder(newReader(data))
	for {
		tok, err := dec.Token()
		if err != nil {
			break
		}
		start, ok := tok.(xml.StartElement)
		if !ok {
			continue
		}
		switch start.Name.Local {
		case "info":
			if v := attrValue(start, "time"); v != "" {
				if ms, err := strconv.ParseFloat(v, 64); err == nil {
					return normalizeBase(int64(ms), mtime)
				}
				log.Printf("telemetry: bad <info time=%q>, falling back", v)
			}
		case "timestamp":
			if v := attrValue(start, "value"); v != "" {
				if t, err := time.Parse(time.RFC3339, v); err == nil {
					return normalizeBase(t.UnixMilli(), mtime)
				}
				log.Printf("telemetry: bad <timestamp value=%q>, falling back", v)
			}
		}
	}
	return mtime.UnixMilli()
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

// walker drives the encoder from XML-parser events in document order.
type walker struct {
	enc  *apxtlm.Encoder
	data []byte
	opts Options
	dec  *xml.Decoder

	nameToIndex map[string]int
	fieldOrder  []string
	fieldsDone  bool
	pendingCSV  []string // accepted <fields> token list, nil if not seen/not accepted

	eventIndex map[string]int
	eventOrder []string
	eventKeys  map[string][]string

	lastTS      uint32
	haveLastTS  bool
	sampleCount int
}

func newWalker(enc *apxtlm.Encoder, data []byte, opts Options) *walker {
	return &walker{
		enc:         enc,
		data:        data,
		opts:        opts,
		dec:         xml.NewDecoder(newReader(data)),
		nameToIndex: make(map[string]int),
		eventIndex:  make(map[string]int),
		eventKeys:   make(map[string][]string),
	}
}

func newReader(data []byte) *strings.Reader {
	return strings.NewReader(string(data))
}

func (w *walker) run(ctx context.Context) error {
	inFields := false
	var fieldsText strings.Builder

	depthInData := 0
	jsoCapturing := false
	var jsoTag string
	var jsoStart int64
	jsoDepth := 0

	for {
		if !jsoCapturing {
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
			switch {
			case name == "fields":
				inFields = true
				fieldsText.Reset()
			case name == "data":
				depthInData = 1
			case depthInData > 0 && jsoCapturing:
				jsoDepth++
			case depthInData > 0 && (name == "D" || name == "E" || name == "U"):
				if err := w.handleDataChild(name, t); err != nil {
					return err
				}
			case depthInData > 0:
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
			case name == "fields":
				inFields = false
				w.acceptFieldsText(fieldsText.String())
			case name == "data":
				depthInData = 0
			case jsoCapturing && name == jsoTag && jsoDepth == 1:
				end := w.dec.InputOffset()
				jsoCapturing = false
				if w.opts.IncludeJSO {
					w.emitJSOCapture(jsoTag, w.data[jsoStart:end])
				}
			case jsoCapturing:
				jsoDepth--
			}
		}
	}
	return nil
}

func (w *walker) acceptFieldsText(text string) {
	toks := ingest.TokenizeCSV(text)
	if len(toks) >= 5 {
		w.pendingCSV = toks
	}
}

// ensureFieldsDeclared emits the dictionary burst on first use, per
// the accepted <fields> token list if any, else
// synthesized "#0".."#{hint-1}" names.
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

// ensureFieldName returns the index for name, declaring it on the fly
// (appended to the dictionary) if not already known.
func (w *walker) ensureFieldName(name string) (int, bool) {
	if idx, ok := w.nameToIndex[name]; ok {
		return idx, true
	}
	idx, ok := w.enc.DeclareField(name, nil)
	if !ok {
		return 0, false
	}
	w.nameToIndex[name] = idx
	w.fieldOrder = append(w.fieldOrder, name)
	return idx, true
}

func (w *walker) emitTimestamp(ms uint32) {
	if w.haveLastTS && w.lastTS == ms {
		return
	}
	w.enc.EmitTimestamp(ms)
	w.haveLastTS = true
	w.lastTS = ms
}

// handleDataChild consumes a <D>, <E>, or <U> element in full (through
// its matching EndElement) and drives the encoder accordingly.
func (w *walker) handleDataChild(name string, start xml.StartElement) error {
	switch name {
	case "D":
		return w.handleD(start)
	case "E":
		return w.handleE(start)
	case "U":
		return w.handleU(start)
	}
	return nil
}

func (w *walker) handleD(start xml.StartElement) error {
	tMS := parseUintAttr(start, "t")

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

func (w *walker) handleE(start xml.StartElement) error {
	tMS := parseUintAttr(start, "t")
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
			log.Printf("telemetry: %v, dropping event %q", err, derived.Name)
			return nil
		}
		w.eventIndex[derived.Name] = idx
		w.eventOrder = append(w.eventOrder, derived.Name)
		w.eventKeys[derived.Name] = derived.Keys
	}

	w.emitTimestamp(tMS)
	return w.enc.EmitEvent(idx, derived.Values)
}

func (w *walker) handleU(start xml.StartElement) error {
	for {
		tok, err := w.dec.Token()
		if err != nil {
			return fmt.Errorf("xml: %w", err)
		}
		switch t := tok.(type) {
		case xml.StartElement:
			if err := w.handleUChild(t); err != nil {
				return err
			}
		case xml.EndElement:
			if t.Name.Local == start.Name.Local {
				return nil
			}
		}
	}
}

func (w *walker) handleUChild(start xml.StartElement) error {
	fieldName := start.Name.Local
	tAttr := attrValue(start, "t")

	var text strings.Builder
	if err := w.collectText(start.Name, &text); err != nil {
		return err
	}

	v, ok := ingest.ParseFiniteFloat(text.String())
	if !ok {
		return nil
	}

	idx, ok := w.ensureFieldName(fieldName)
	if !ok {
		return nil // declaration cap reached
	}

	if tAttr != "" {
		if ms, err := strconv.ParseFloat(tAttr, 64); err == nil {
			w.emitTimestamp(uint32(ms))
		}
	}

	if err := w.enc.EmitSample(idx, v, true); err != nil {
		return err
	}
	w.sampleCount++
	return nil
}

// collectText consumes tokens through the matching EndElement for name,
// accumulating character data into buf. It does not support nested
// elements of the same shape (D/E/U children are text leaves per the
// dialect grammar).
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

func parseUintAttr(start xml.StartElement, name string) uint32 {
	v := attrValue(start, name)
	if v == "" {
		return 0
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil || f < 0 {
		return 0
	}
	return uint32(f)
}

// emitJSOCapture re-parses a captured sub-tree (from <data>) into a
// generic value tree, attempts the node-dictionary normalization, and
// emits the result as a jso record. Re-parse failures are non-fatal
// (JsoReparse: log and skip).
func (w *walker) emitJSOCapture(tag string, raw []byte) {
	val, err := jsonvalue.XMLToValue(raw)
	if err != nil {
		log.Printf("telemetry: jso reparse failed for <%s>: %v", tag, err)
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
		log.Printf("telemetry: jso marshal failed for <%s>: %v", tag, err)
		return
	}
	if err := w.enc.EmitJSO(name, blob); err != nil {
		log.Printf("telemetry: jso emit failed for <%s>: %v", tag, err)
	}
}
