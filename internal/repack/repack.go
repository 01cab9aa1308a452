// Package repack is the top-level dispatcher (component C8): given an
// input path it classifies the dialect and hands off to the matching
// ingest package.
package repack

import (
	"context"
	"io"
	"os"

	"github.com/arkilian/apxtlm-repack/internal/ingest/datalink"
	"github.com/arkilian/apxtlm-repack/internal/ingest/telemetry"
	"github.com/arkilian/apxtlm-repack/internal/rerr"
	"github.com/arkilian/apxtlm-repack/internal/sniff"
)

// Options configures a run, independent of how the input/output were
// resolved (local file, or downloaded/uploaded via internal/objstore).
type Options struct {
	UTCOffsetSec int32
	IncludeJSO   bool
}

// EventDecl is one declared event schema, in declaration order.
type EventDecl struct {
	Name string
	Keys []string
}

// Stats summarizes one completed run, for internal/catalog and
// internal/checkpoint.
type Stats struct {
	Dialect     sniff.Dialect
	FieldCount  int
	EventCount  int
	SampleCount int
	Fields      []string
	Events      []EventDecl
}

// Run classifies inputPath and repacks it into out, returning the
// resolved dialect and counts for catalog bookkeeping. Cancelling ctx
// stops the walk early but still finalizes a valid output stream.
func Run(ctx context.Context, inputPath string, out io.Writer, opts Options) (Stats, error) {
	f, err := os.Open(inputPath)
	if err != nil {
		if os.IsNotExist(err) {
			return Stats{}, rerr.NotFound(inputPath, err)
		}
		return Stats{}, rerr.IO("open input", err)
	}

	dialect, err := sniff.Classify(inputPath, f)
	closeErr := f.Close()
	if err != nil {
		return Stats{}, rerr.Classification(inputPath)
	}
	if closeErr != nil {
		return Stats{}, rerr.IO("close input after classify", closeErr)
	}

	ingestOpts := struct {
		UTCOffsetSec int32
		IncludeJSO   bool
	}{opts.UTCOffsetSec, opts.IncludeJSO}

	var fieldCount, eventCount, sampleCount int
	var fields []string
	var events []EventDecl
	switch dialect {
	case sniff.Telemetry:
		var res telemetry.Result
		res, err = telemetry.Repack(ctx, inputPath, out, telemetry.Options(ingestOpts))
		fieldCount, eventCount, sampleCount = res.FieldCount, res.EventCount, res.SampleCount
		fields = res.Fields
		for _, e := range res.Events {
			events = append(events, EventDecl{Name: e.Name, Keys: e.Keys})
		}
	case sniff.Datalink:
		var res datalink.Result
		res, err = datalink.Repack(ctx, inputPath, out, datalink.Options(ingestOpts))
		fieldCount, eventCount, sampleCount = res.FieldCount, res.EventCount, res.SampleCount
		fields = res.Fields
		for _, e := range res.Events {
			events = append(events, EventDecl{Name: e.Name, Keys: e.Keys})
		}
	default:
		return Stats{}, rerr.Classification(inputPath)
	}
	if err != nil {
		return Stats{}, err
	}
	return Stats{
		Dialect:     dialect,
		FieldCount:  fieldCount,
		EventCount:  eventCount,
		SampleCount: sampleCount,
		Fields:      fields,
		Events:      events,
	}, nil
}
