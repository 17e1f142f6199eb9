package fit2gpx_test

import (
	"bytes"
	"encoding/xml"
	"errors"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"testing/fstest"

	"github.com/alecthomas/assert/v2"
	"github.com/muktihari/fit/encoder"
	"github.com/muktihari/fit/profile/factory"
	"github.com/muktihari/fit/profile/typedef"
	"github.com/muktihari/fit/profile/untyped/fieldnum"
	"github.com/muktihari/fit/profile/untyped/mesgnum"
	"github.com/muktihari/fit/proto"

	"github.com/twpayne/go-fit2gpx"
)

// Semicircle positions with exact degree values.
const (
	lat46_40625 = 553648128 // 46.40625 degrees.
	lat47_8125  = 570425344 // 47.8125 degrees.
	lon16_875   = 201326592 // 16.875 degrees.
)

// noAltitude marks records written without an altitude field.
const noAltitude = 0xffff

type testRecord struct {
	timestamp uint32
	lat, lon  int32
	altitude  uint16
}

// newTestFIT returns an activity FIT file containing records. Timestamps are
// compressed into message headers where possible.
func newTestFIT(t *testing.T, records ...testRecord) []byte {
	t.Helper()
	fit := &proto.FIT{
		Messages: []proto.Message{
			{
				Num: mesgnum.FileId,
				Fields: []proto.Field{
					factory.CreateField(mesgnum.FileId, fieldnum.FileIdType).WithValue(uint8(typedef.FileActivity)),
				},
			},
		},
	}
	for _, record := range records {
		fields := []proto.Field{
			factory.CreateField(mesgnum.Record, fieldnum.RecordTimestamp).WithValue(record.timestamp),
			factory.CreateField(mesgnum.Record, fieldnum.RecordPositionLat).WithValue(record.lat),
			factory.CreateField(mesgnum.Record, fieldnum.RecordPositionLong).WithValue(record.lon),
		}
		if record.altitude != noAltitude {
			fields = append(fields, factory.CreateField(mesgnum.Record, fieldnum.RecordAltitude).WithValue(record.altitude))
		}
		fit.Messages = append(fit.Messages, proto.Message{
			Num:    mesgnum.Record,
			Fields: fields,
		})
	}
	var b bytes.Buffer
	assert.NoError(t, encoder.New(&b, encoder.WithHeaderOption(encoder.HeaderOptionCompressedTimestamp, 3)).Encode(fit))
	return b.Bytes()
}

// newTestRide returns a ride with one point in N47E016, one point without a
// fix, and one point in N46E016 with a recorded altitude.
func newTestRide(t *testing.T) []byte {
	t.Helper()
	return newTestFIT(t,
		testRecord{timestamp: 1000000000, lat: lat47_8125, lon: lon16_875, altitude: noAltitude},
		testRecord{timestamp: 1000000001, altitude: noAltitude},
		testRecord{timestamp: 1000000002, lat: lat46_40625, lon: lon16_875, altitude: 2600},
	)
}

type gpxDocument struct {
	Creator  string `xml:"creator,attr"`
	Segments []struct {
		Points []struct {
			Lat  float64  `xml:"lat,attr"`
			Lon  float64  `xml:"lon,attr"`
			Ele  *float64 `xml:"ele"`
			Time string   `xml:"time"`
		} `xml:"trkpt"`
	} `xml:"trk>trkseg"`
}

func readGPX(t *testing.T, filename string) *gpxDocument {
	t.Helper()
	data, err := os.ReadFile(filename)
	assert.NoError(t, err)
	var document gpxDocument
	assert.NoError(t, xml.Unmarshal(data, &document))
	return &document
}

func writeFile(t *testing.T, filename string, data []byte) {
	t.Helper()
	assert.NoError(t, os.WriteFile(filename, data, 0o666))
}

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestLoader() *fit2gpx.TileLoader {
	fsys := fstest.MapFS{
		"N47E016.hgt": &fstest.MapFile{Data: newTestHGT()},
	}
	return fit2gpx.NewTileLoader(fsys, fit2gpx.WithLoaderLogger(newTestLogger()))
}

func TestReadActivity(t *testing.T) {
	activity, err := fit2gpx.ReadActivity(bytes.NewReader(newTestRide(t)))
	assert.NoError(t, err)
	assert.Equal(t, 2, len(activity.Points))
	assert.Equal(t, 47.8125, activity.Points[0].Lat)
	assert.Equal(t, 16.875, activity.Points[0].Lon)
	assert.Equal(t, (*float64)(nil), activity.Points[0].Elevation)
	assert.Equal(t, "2021-09-08T01:46:40Z", activity.Points[0].Time.Format("2006-01-02T15:04:05Z07:00"))
	assert.Equal(t, ptr(20.0), activity.Points[1].Elevation)
	assert.Equal(t, []fit2gpx.TileKey{{Lat: 46, Lon: 16}, {Lat: 47, Lon: 16}}, activity.TileKeys().Sorted())

	_, err = fit2gpx.ReadActivity(bytes.NewReader([]byte("not a FIT file")))
	assert.Error(t, err)
}

func TestReadActivityChained(t *testing.T) {
	data := newTestRide(t)
	data = append(data, newTestFIT(t,
		testRecord{timestamp: 1000000100, lat: lat47_8125, lon: lon16_875, altitude: 3000},
	)...)
	activity, err := fit2gpx.ReadActivity(bytes.NewReader(data))
	assert.NoError(t, err)
	assert.Equal(t, 3, len(activity.Points))
	assert.Equal(t, ptr(100.0), activity.Points[2].Elevation)
	assert.Equal(t, "2021-09-08T01:48:20Z", activity.Points[2].Time.Format("2006-01-02T15:04:05Z07:00"))

	data[len(data)-1] ^= 0xff
	_, err = fit2gpx.ReadActivity(bytes.NewReader(data))
	assert.Error(t, err)
}

func TestActivityAddElevation(t *testing.T) {
	activity, err := fit2gpx.ReadActivity(bytes.NewReader(newTestRide(t)))
	assert.NoError(t, err)
	stats, err := activity.AddElevation(t.Context(), newTestLoader(), false)
	assert.NoError(t, err)
	assert.Equal(t, fit2gpx.JoinStats{Elevated: 1, Kept: 1}, stats)
	assert.Equal(t, []*float64{ptr(102.0), ptr(20.0)}, elevations(activity.Points))
}

func TestConverter(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "ride.fit"), newTestRide(t))
	writeFile(t, filepath.Join(dir, "walk.FIT"), newTestFIT(t,
		testRecord{timestamp: 1000000000, lat: lat47_8125, lon: lon16_875, altitude: 3000},
	))
	writeFile(t, filepath.Join(dir, "notes.txt"), []byte("notes"))
	writeFile(t, filepath.Join(dir, "existing.fit"), newTestRide(t))
	writeFile(t, filepath.Join(dir, "existing.gpx"), []byte("existing"))
	writeFile(t, filepath.Join(dir, "broken.fit"), []byte("broken"))
	writeFile(t, filepath.Join(dir, "empty.fit"), newTestFIT(t,
		testRecord{timestamp: 1000000000, altitude: 2600},
	))

	filenames := []string{
		filepath.Join(dir, "ride.fit"),
		filepath.Join(dir, "walk.FIT"),
		filepath.Join(dir, "notes.txt"),
		filepath.Join(dir, "existing.fit"),
		filepath.Join(dir, "broken.fit"),
		filepath.Join(dir, "empty.fit"),
	}
	converter := fit2gpx.NewConverter(
		fit2gpx.WithElevation(newTestLoader()),
		fit2gpx.WithLogger(newTestLogger()),
		fit2gpx.WithCreator("test"),
	)
	results, err := converter.Convert(t.Context(), filenames)
	assert.NoError(t, err)
	assert.Equal(t, len(filenames), len(results))

	assert.NoError(t, results[0].Err)
	assert.NoError(t, results[0].Skipped)
	assert.Equal(t, filepath.Join(dir, "ride.gpx"), results[0].OutputFilename)
	assert.Equal(t, 2, results[0].Points)
	assert.Equal(t, fit2gpx.JoinStats{Elevated: 1, Kept: 1}, results[0].Elevation)
	ride := readGPX(t, filepath.Join(dir, "ride.gpx"))
	assert.Equal(t, "test", ride.Creator)
	assert.Equal(t, 1, len(ride.Segments))
	assert.Equal(t, 2, len(ride.Segments[0].Points))
	assert.Equal(t, 47.8125, ride.Segments[0].Points[0].Lat)
	assert.Equal(t, ptr(102.0), ride.Segments[0].Points[0].Ele)
	assert.Equal(t, "2021-09-08T01:46:40Z", ride.Segments[0].Points[0].Time)
	assert.Equal(t, 46.40625, ride.Segments[0].Points[1].Lat)
	assert.Equal(t, ptr(20.0), ride.Segments[0].Points[1].Ele)

	assert.NoError(t, results[1].Err)
	walk := readGPX(t, filepath.Join(dir, "walk.gpx"))
	assert.Equal(t, ptr(100.0), walk.Segments[0].Points[0].Ele)

	assert.IsError(t, results[2].Skipped, fit2gpx.ErrNotFITFilename)
	assert.IsError(t, results[3].Skipped, fit2gpx.ErrOutputExists)
	existing, err := os.ReadFile(filepath.Join(dir, "existing.gpx"))
	assert.NoError(t, err)
	assert.Equal(t, "existing", string(existing))

	assert.Error(t, results[4].Err)
	_, err = os.Stat(filepath.Join(dir, "broken.gpx"))
	assert.True(t, errors.Is(err, os.ErrNotExist))

	assert.IsError(t, results[5].Skipped, fit2gpx.ErrEmptyTrack)
	_, err = os.Stat(filepath.Join(dir, "empty.gpx"))
	assert.True(t, errors.Is(err, os.ErrNotExist))
}

func TestConverterOverwrite(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "ride.fit"), newTestRide(t))
	writeFile(t, filepath.Join(dir, "ride.gpx"), []byte("existing"))

	converter := fit2gpx.NewConverter(
		fit2gpx.WithElevation(newTestLoader()),
		fit2gpx.WithLogger(newTestLogger()),
		fit2gpx.WithOverwrite(true),
	)
	results, err := converter.Convert(t.Context(), []string{filepath.Join(dir, "ride.fit")})
	assert.NoError(t, err)
	assert.NoError(t, results[0].Err)
	assert.Equal(t, fit2gpx.JoinStats{Elevated: 1, Missing: 1}, results[0].Elevation)
	ride := readGPX(t, filepath.Join(dir, "ride.gpx"))
	assert.Equal(t, ptr(102.0), ride.Segments[0].Points[0].Ele)
	assert.Equal(t, ptr(20.0), ride.Segments[0].Points[1].Ele)
}

func TestConverterWithoutElevation(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "ride.fit"), newTestRide(t))

	converter := fit2gpx.NewConverter(fit2gpx.WithLogger(newTestLogger()))
	results, err := converter.Convert(t.Context(), []string{filepath.Join(dir, "ride.fit")})
	assert.NoError(t, err)
	assert.NoError(t, results[0].Err)
	assert.Equal(t, fit2gpx.JoinStats{}, results[0].Elevation)
	ride := readGPX(t, filepath.Join(dir, "ride.gpx"))
	assert.Equal(t, (*float64)(nil), ride.Segments[0].Points[0].Ele)
	assert.Equal(t, ptr(20.0), ride.Segments[0].Points[1].Ele)
}

func TestConverterStrict(t *testing.T) {
	for _, perFileElevation := range []bool{false, true} {
		t.Run(map[bool]string{false: "batch", true: "per_file"}[perFileElevation], func(t *testing.T) {
			dir := t.TempDir()
			writeFile(t, filepath.Join(dir, "ride.fit"), newTestRide(t))
			writeFile(t, filepath.Join(dir, "walk.fit"), newTestFIT(t,
				testRecord{timestamp: 1000000000, lat: lat47_8125, lon: lon16_875, altitude: noAltitude},
			))

			converter := fit2gpx.NewConverter(
				fit2gpx.WithElevation(newTestLoader()),
				fit2gpx.WithLogger(newTestLogger()),
				fit2gpx.WithStrictElevation(true),
				fit2gpx.WithOverwrite(true),
				fit2gpx.WithPerFileElevation(perFileElevation),
			)
			results, err := converter.Convert(t.Context(), []string{
				filepath.Join(dir, "ride.fit"),
				filepath.Join(dir, "walk.fit"),
			})
			assert.NoError(t, err)

			var missingTileError *fit2gpx.MissingTileError
			assert.True(t, errors.As(results[0].Err, &missingTileError))
			assert.Equal(t, fit2gpx.TileKey{Lat: 46, Lon: 16}, missingTileError.Key)
			_, err = os.Stat(filepath.Join(dir, "ride.gpx"))
			assert.True(t, errors.Is(err, os.ErrNotExist))

			assert.NoError(t, results[1].Err)
			walk := readGPX(t, filepath.Join(dir, "walk.gpx"))
			assert.Equal(t, ptr(102.0), walk.Segments[0].Points[0].Ele)
		})
	}
}

func TestConverterTileCloseError(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "ride.fit"), newTestRide(t))

	tile := &testTile{lat: 47, lon: 16, closeErr: errors.New("close")}
	loader := fit2gpx.NewTileLoader(fstest.MapFS{},
		fit2gpx.WithLoaderLogger(newTestLogger()),
		fit2gpx.WithTileOpenFunc(func(fsys fs.FS, filename string) (fit2gpx.Tile, error) {
			if filename != "N47E016.hgt" {
				return nil, fs.ErrNotExist
			}
			return tile, nil
		}),
	)
	var logs bytes.Buffer
	converter := fit2gpx.NewConverter(
		fit2gpx.WithElevation(loader),
		fit2gpx.WithLogger(slog.New(slog.NewTextHandler(&logs, nil))),
	)
	results, err := converter.Convert(t.Context(), []string{filepath.Join(dir, "ride.fit")})
	assert.NoError(t, err)
	assert.NoError(t, results[0].Err)
	assert.True(t, tile.closed)
	assert.Contains(t, logs.String(), `msg="closing tiles failed" err=close`)
}

func TestConverterMerge(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "a.fit"), newTestRide(t))
	writeFile(t, filepath.Join(dir, "b.fit"), newTestFIT(t,
		testRecord{timestamp: 1000000100, lat: lat47_8125, lon: lon16_875, altitude: 3000},
	))
	writeFile(t, filepath.Join(dir, "c.fit"), []byte("broken"))
	mergeFilename := filepath.Join(dir, "merged.gpx")

	converter := fit2gpx.NewConverter(
		fit2gpx.WithElevation(newTestLoader()),
		fit2gpx.WithLogger(newTestLogger()),
		fit2gpx.WithMergedOutput(mergeFilename),
		fit2gpx.WithPerFileElevation(true),
	)
	results, err := converter.Convert(t.Context(), []string{
		filepath.Join(dir, "a.fit"),
		filepath.Join(dir, "b.fit"),
		filepath.Join(dir, "c.fit"),
	})
	assert.NoError(t, err)
	assert.Equal(t, mergeFilename, results[0].OutputFilename)
	assert.Equal(t, mergeFilename, results[1].OutputFilename)
	assert.Error(t, results[2].Err)
	assert.Equal(t, "", results[2].OutputFilename)

	_, err = os.Stat(filepath.Join(dir, "a.gpx"))
	assert.True(t, errors.Is(err, os.ErrNotExist))

	merged := readGPX(t, mergeFilename)
	assert.Equal(t, 2, len(merged.Segments))
	assert.Equal(t, 2, len(merged.Segments[0].Points))
	assert.Equal(t, ptr(102.0), merged.Segments[0].Points[0].Ele)
	assert.Equal(t, 1, len(merged.Segments[1].Points))
	assert.Equal(t, ptr(100.0), merged.Segments[1].Points[0].Ele)
}
