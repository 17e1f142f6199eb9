// Package hgt reads SRTM HGT elevation tiles.
//
// An HGT file is a square grid of big-endian signed 16-bit elevations in
// meters, stored row by row from north to south. A tile is named by its south
// west corner, for example N47E016.hgt covers latitudes 47 to 48 and
// longitudes 16 to 17. Adjacent tiles share their edge rows and columns.
package hgt

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"math"
	"path"
	"strconv"
	"strings"

	"github.com/klauspost/compress/zip"

	"github.com/twpayne/go-fit2gpx/raster"
)

// Void is the value of missing samples.
const Void = -32768

var (
	ErrName = errors.New("invalid HGT filename")
	ErrSize = errors.New("invalid HGT size")
)

// A Tile is an HGT tile held in memory.
type Tile struct {
	lat           int
	lon           int
	size          int
	samples       []int16
	interpolation raster.Interpolation
}

// An Option sets an option on a Tile.
type Option func(*Tile)

// WithInterpolation sets the interpolation used by Sample.
func WithInterpolation(interpolation raster.Interpolation) Option {
	return func(t *Tile) {
		t.interpolation = interpolation
	}
}

// Filename returns the filename of the tile whose south west corner is at
// lat, lon.
func Filename(lat, lon int) string {
	ns, ew := 'N', 'E'
	if lat < 0 {
		ns = 'S'
	}
	if lon < 0 {
		ew = 'W'
	}
	return fmt.Sprintf("%c%02d%c%03d.hgt", ns, abs(lat), ew, abs(lon))
}

// ParseFilename returns the south west corner of the tile named filename.
// Directories and .hgt or .hgt.zip extensions are ignored.
func ParseFilename(filename string) (lat, lon int, err error) {
	name := strings.ToUpper(path.Base(filename))
	name = strings.TrimSuffix(name, ".ZIP")
	name = strings.TrimSuffix(name, ".HGT")
	if len(name) != 7 {
		return 0, 0, fmt.Errorf("%s: %w", filename, ErrName)
	}
	lat, latErr := strconv.Atoi(name[1:3])
	lon, lonErr := strconv.Atoi(name[4:7])
	if latErr != nil || lonErr != nil {
		return 0, 0, fmt.Errorf("%s: %w", filename, ErrName)
	}
	switch ns := name[0]; ns {
	case 'N':
	case 'S':
		lat = -lat
	default:
		return 0, 0, fmt.Errorf("%s: %w", filename, ErrName)
	}
	switch ew := name[3]; ew {
	case 'E':
	case 'W':
		lon = -lon
	default:
		return 0, 0, fmt.Errorf("%s: %w", filename, ErrName)
	}
	if lat < -90 || 90 <= lat || lon < -180 || 180 <= lon {
		return 0, 0, fmt.Errorf("%s: %w", filename, ErrName)
	}
	return lat, lon, nil
}

// Open opens the tile filename in fsys. If filename does not exist but a
// zipped copy with an additional .zip extension does, the zipped copy is read.
func Open(fsys fs.FS, filename string, options ...Option) (*Tile, error) {
	lat, lon, err := ParseFilename(filename)
	if err != nil {
		return nil, err
	}
	switch data, err := fs.ReadFile(fsys, filename); {
	case errors.Is(err, fs.ErrNotExist) && !strings.HasSuffix(strings.ToLower(filename), ".zip"):
		zipData, zipErr := fs.ReadFile(fsys, filename+".zip")
		if zipErr != nil {
			return nil, err
		}
		return readZip(zipData, lat, lon, options...)
	case err != nil:
		return nil, err
	case strings.HasSuffix(strings.ToLower(filename), ".zip"):
		return readZip(data, lat, lon, options...)
	default:
		return New(data, lat, lon, options...)
	}
}

// Read reads a tile from r.
func Read(r io.Reader, lat, lon int, options ...Option) (*Tile, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	return New(data, lat, lon, options...)
}

// New returns a new Tile with the south west corner lat, lon from the raw
// contents of an HGT file.
func New(data []byte, lat, lon int, options ...Option) (*Tile, error) {
	size := int(math.Sqrt(float64(len(data) / 2)))
	if size < 2 || 2*size*size != len(data) {
		return nil, fmt.Errorf("%d bytes: %w", len(data), ErrSize)
	}
	t := &Tile{
		lat:     lat,
		lon:     lon,
		size:    size,
		samples: make([]int16, size*size),
	}
	for _, option := range options {
		option(t)
	}
	for i := range t.samples {
		t.samples[i] = int16(binary.BigEndian.Uint16(data[2*i : 2*i+2]))
	}
	return t, nil
}

// readZip reads the first HGT file in the zip archive data.
func readZip(data []byte, lat, lon int, options ...Option) (*Tile, error) {
	zipReader, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, err
	}
	for _, zipFile := range zipReader.File {
		name := path.Base(zipFile.Name)
		if strings.HasPrefix(name, ".") || !strings.EqualFold(path.Ext(name), ".hgt") {
			continue
		}
		rc, err := zipFile.Open()
		if err != nil {
			return nil, err
		}
		t, err := Read(rc, lat, lon, options...)
		if closeErr := rc.Close(); err == nil {
			err = closeErr
		}
		return t, err
	}
	return nil, fmt.Errorf("no HGT file in archive: %w", fs.ErrNotExist)
}

// SouthWest returns the latitude and longitude of t's south west corner.
func (t *Tile) SouthWest() (lat, lon int) {
	return t.lat, t.lon
}

// Dims returns the number of columns and rows in t.
func (t *Tile) Dims() (int, int) {
	return t.size, t.size
}

// At returns the sample at col, row.
func (t *Tile) At(col, row int) (float64, bool) {
	if col < 0 || t.size <= col || row < 0 || t.size <= row {
		return 0, false
	}
	sample := t.samples[row*t.size+col]
	if sample == Void {
		return 0, false
	}
	return float64(sample), true
}

// Sample returns the elevation at lon, lat. It returns false if lon, lat is
// outside t or the sample is void.
func (t *Tile) Sample(lon, lat float64) (float64, bool) {
	x := (lon - float64(t.lon)) * float64(t.size-1)
	y := (float64(t.lat+1) - lat) * float64(t.size-1)
	return raster.Sample(t, x, y, t.interpolation)
}

func abs(x int) int {
	if x < 0 {
		return -x
	}
	return x
}
