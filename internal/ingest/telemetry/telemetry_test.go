package telemetry

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/arkilian/apxtlm-repack/internal/rerr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFixture(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestRepack_CSVRowsDeclareFieldsAndEmitSamples(t *testing.T) {
	xmlDoc := `<telemetry><info time="1700000000000"/><fields>alt,lat,lon,spd,hdg</fields><data>
<D t="1700000000000">100.5,12.3,45.6,20.0,90.0</D>
<D t="1700000001000">100.5,12.3,45.7,20.0,90.0</D>
</data></telemetry>`
	path := writeFixture(t, "sample.telemetry", xmlDoc)

	var out bytes.Buffer
	res, err := Repack(context.Background(), path, &out, Options{})
	require.NoError(t, err)

	assert.Equal(t, 5, res.FieldCount)
	assert.Equal(t, []string{"alt", "lat", "lon", "spd", "hdg"}, res.Fields)
	assert.Equal(t, 10, res.SampleCount)
	assert.True(t, out.Len() > 0)
}

func TestRepack_EventDeclaresSchemaOnce(t *testing.T) {
	xmlDoc := `<telemetry><info time="1700000000000"/><fields>alt</fields><data>
<D t="1">10</D>
<E t="2" name="mode_change" from="idle" to="armed"/>
<E t="3" name="mode_change" from="armed" to="flight"/>
</data></telemetry>`
	path := writeFixture(t, "events.telemetry", xmlDoc)

	var out bytes.Buffer
	res, err := Repack(context.Background(), path, &out, Options{})
	require.NoError(t, err)

	assert.Equal(t, 1, res.EventCount)
	require.Len(t, res.Events, 1)
	assert.Equal(t, "mode_change", res.Events[0].Name)
}

func TestRepack_UplinkElementsDeclareFieldsOnTheFly(t *testing.T) {
	xmlDoc := `<telemetry><info time="1700000000000"/><data>
<U><setpoint t="5">42.0</setpoint></U>
</data></telemetry>`
	path := writeFixture(t, "uplink.telemetry", xmlDoc)

	var out bytes.Buffer
	res, err := Repack(context.Background(), path, &out, Options{})
	require.NoError(t, err)

	assert.Equal(t, 1, res.FieldCount)
	assert.Equal(t, []string{"setpoint"}, res.Fields)
	assert.Equal(t, 1, res.SampleCount)
}

func TestRepack_BadNumericTokenIsSkippedNotFatal(t *testing.T) {
	xmlDoc := `<telemetry><info time="1700000000000"/><fields>alt,lat</fields><data>
<D t="1">not-a-number,12.3</D>
</data></telemetry>`
	path := writeFixture(t, "badnum.telemetry", xmlDoc)

	var out bytes.Buffer
	res, err := Repack(context.Background(), path, &out, Options{})
	require.NoError(t, err)
	assert.Equal(t, 1, res.SampleCount, "only the parseable column should emit a sample")
}

func TestRepack_JSOCaptureOnlyWhenRequested(t *testing.T) {
	xmlDoc := `<telemetry><info time="1700000000000"/><fields>alt</fields><data>
<D t="1">10</D>
<diag><code>7</code></diag>
</data></telemetry>`
	path := writeFixture(t, "jso.telemetry", xmlDoc)

	var withoutJSO bytes.Buffer
	_, err := Repack(context.Background(), path, &withoutJSO, Options{IncludeJSO: false})
	require.NoError(t, err)

	var withJSO bytes.Buffer
	_, err = Repack(context.Background(), path, &withJSO, Options{IncludeJSO: true})
	require.NoError(t, err)

	assert.Greater(t, withJSO.Len(), withoutJSO.Len(), "IncludeJSO must grow the stream")
}

func TestRepack_MissingFileReturnsNotFound(t *testing.T) {
	var out bytes.Buffer
	_, err := Repack(context.Background(), filepath.Join(t.TempDir(), "missing.telemetry"), &out, Options{})
	assert.Error(t, err)
	assert.Equal(t, rerr.CategoryNotFound, rerr.GetCategory(err))
}

func TestRepack_CancelledContextStopsCleanlyAndFinalizes(t *testing.T) {
	var rows string
	for i := 0; i < 200; i++ {
		rows += `<D t="1">10</D>` + "\n"
	}
	xmlDoc := `<telemetry><info time="1700000000000"/><fields>alt</fields><data>` + rows + `</data></telemetry>`
	path := writeFixture(t, "cancel.telemetry", xmlDoc)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var out bytes.Buffer
	_, err := Repack(ctx, path, &out, Options{})
	require.NoError(t, err)
	assert.True(t, out.Len() > 0, "even an immediately-cancelled run still writes a finalized header+stop stream")
}
