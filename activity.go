package fit2gpx

import (
	"bufio"
	"context"
	"encoding/xml"
	"errors"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/muktihari/fit/decoder"
	"github.com/muktihari/fit/profile/untyped/mesgnum"
	"github.com/twpayne/go-gpx"

	"github.com/twpayne/go-fit2gpx/gpxtpx"
)

// An Activity is the track of a single FIT file.
type Activity struct {
	Filename string
	Points   []TrackPoint
}

// ReadActivity reads an activity from the FIT file r. Chained FIT files are
// read in order. Records without a valid position are dropped.
func ReadActivity(r io.Reader) (*Activity, error) {
	var points []TrackPoint
	dec := decoder.New(r)
	for dec.Next() {
		fit, err := dec.Decode()
		if err != nil {
			return nil, err
		}
		for i := range fit.Messages {
			if m := &fit.Messages[i]; m.Num == mesgnum.Record {
				points = append(points, MapRecord(m))
			}
		}
	}
	return &Activity{
		Points: slices.Collect(ValidPoints(slices.Values(points))),
	}, nil
}

// ReadActivityFile reads an activity from the FIT file filename.
func ReadActivityFile(filename string) (*Activity, error) {
	file, err := os.Open(filename)
	if err != nil {
		return nil, err
	}
	defer file.Close()
	activity, err := ReadActivity(bufio.NewReader(file))
	if err != nil {
		return nil, err
	}
	activity.Filename = filename
	return activity, nil
}

// Name returns the base name of a's file without its extension.
func (a *Activity) Name() string {
	base := filepath.Base(a.Filename)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// TileKeys returns the keys of the tiles needed to add elevations to a.
func (a *Activity) TileKeys() TileKeySet {
	return NeededTileKeys(slices.Values(a.Points))
}

// AddElevation loads the tiles needed by a with loader and adds elevations to
// a's points.
func (a *Activity) AddElevation(ctx context.Context, loader *TileLoader, overwrite bool) (stats JoinStats, err error) {
	index, err := loader.Load(ctx, a.TileKeys())
	if err != nil {
		return JoinStats{}, err
	}
	defer func() {
		err = errors.Join(err, index.Close())
	}()
	return AddElevation(a.Points, index, overwrite), nil
}

// Segment returns a's points as a GPX track segment.
func (a *Activity) Segment() (*gpx.TrkSegType, error) {
	trkPts := make([]*gpx.WptType, 0, len(a.Points))
	for _, point := range a.Points {
		trkPt, err := newWptType(point)
		if err != nil {
			return nil, err
		}
		trkPts = append(trkPts, trkPt)
	}
	return &gpx.TrkSegType{
		TrkPt: trkPts,
	}, nil
}

// GPX returns a as a GPX document with a single track.
func (a *Activity) GPX(creator string) (*gpx.GPX, error) {
	trkSeg, err := a.Segment()
	if err != nil {
		return nil, err
	}
	return NewGPX(creator, &gpx.TrkType{
		Name:   a.Name(),
		TrkSeg: []*gpx.TrkSegType{trkSeg},
	}), nil
}

// NewGPX returns a new GPX 1.1 document containing trks that declares the
// TrackPointExtension namespace.
func NewGPX(creator string, trks ...*gpx.TrkType) *gpx.GPX {
	g := &gpx.GPX{
		Version: "1.1",
		Creator: creator,
		Trk:     trks,
	}
	gpxtpx.Declare(g)
	return g
}

// newWptType returns point as a GPX track point. Sensor values are written as
// TrackPointExtension elements.
func newWptType(point TrackPoint) (*gpx.WptType, error) {
	wpt := &gpx.WptType{
		Lat:  point.Lat,
		Lon:  point.Lon,
		Time: point.Time,
	}
	if point.Elevation != nil {
		wpt.Ele = *point.Elevation
	}
	tpx := &gpxtpx.TrackPointExtension{
		ATemp: point.Temperature,
		HR:    point.HeartRate,
		Cad:   point.Cadence,
		Speed: point.Speed,
	}
	extensions, err := tpx.Extensions()
	if err != nil {
		return nil, err
	}
	wpt.Extensions = extensions
	return wpt, nil
}

// GPXFilename returns the name of a's GPX file, next to its FIT file.
func (a *Activity) GPXFilename() string {
	return GPXFilename(a.Filename)
}

// GPXFilename returns the name of the GPX file for the FIT file filename.
func GPXFilename(filename string) string {
	return strings.TrimSuffix(filename, filepath.Ext(filename)) + ".gpx"
}

// WriteGPXFile writes g to filename.
func WriteGPXFile(filename string, g *gpx.GPX) (err error) {
	file, err := os.Create(filename)
	if err != nil {
		return err
	}
	defer func() {
		err = errors.Join(err, file.Close())
	}()
	w := bufio.NewWriter(file)
	if err := WriteGPX(w, g); err != nil {
		return err
	}
	return w.Flush()
}

// WriteGPX writes g to w as an indented XML document.
func WriteGPX(w io.Writer, g *gpx.GPX) error {
	if _, err := io.WriteString(w, xml.Header); err != nil {
		return err
	}
	if err := g.WriteIndent(w, "", "  "); err != nil {
		return err
	}
	_, err := io.WriteString(w, "\n")
	return err
}
