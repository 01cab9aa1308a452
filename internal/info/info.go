// Package info assembles the embedded metadata object (component C7)
// that the encoder writes as the first jso record of every APXTLM file.
package info

import (
	"path/filepath"
	"strings"
)

// Params configures Build. UnitName/UnitTime/UnitType/UnitUID are
// optional; the unit object is omitted entirely when both UnitName and
// UnitUID are empty.
type Params struct {
	InputPath    string
	Format       string // "telemetry" or "datalink"
	TimestampMS  uint64
	UTCOffsetSec int32

	UnitName string
	UnitTime interface{}
	UnitType string
	UnitUID  string
}

// Build assembles the info object. Unset unit fields are omitted from
// the result; "timestamp" and "utc_offset" are always present (zero when
// not given), so the encoder's substitution of header values for a
// missing timestamp/utc_offset does not apply to objects built here.
func Build(p Params) map[string]interface{} {
	stem := strings.TrimSuffix(filepath.Base(p.InputPath), filepath.Ext(p.InputPath))

	imp := map[string]interface{}{
		"name":      filepath.Base(p.InputPath),
		"title":     stem,
		"format":    p.Format,
		"timestamp": uint32(p.TimestampMS),
	}

	out := map[string]interface{}{
		"title":      stem,
		"import":     imp,
		"timestamp":  uint32(p.TimestampMS),
		"utc_offset": p.UTCOffsetSec,
	}

	if p.UnitName != "" || p.UnitUID != "" {
		unit := map[string]interface{}{}
		if p.UnitName != "" {
			unit["name"] = p.UnitName
		}
		if p.UnitTime != nil {
			unit["time"] = p.UnitTime
		}
		if p.UnitType != "" {
			unit["type"] = p.UnitType
		}
		if p.UnitUID != "" {
			unit["uid"] = p.UnitUID
		}
		out["unit"] = unit
	}

	return out
}
