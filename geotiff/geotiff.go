// Package geotiff reads tiled GeoTIFF elevation tiles in geographic
// coordinates, such as the Copernicus DEM.
package geotiff

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"math"
	"strconv"
	"strings"

	"github.com/google/tiff"
	_ "github.com/google/tiff/bigtiff"
	_ "github.com/google/tiff/geotiff"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/klauspost/compress/zlib"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"golang.org/x/image/tiff/lzw"

	"github.com/twpayne/go-fit2gpx/raster"
)

const (
	compressionNone         = 1
	compressionLZW          = 5
	compressionDeflate      = 8
	compressionDeflateAdobe = 32946

	predictorNone          = 1
	predictorHorizontal    = 2
	predictorFloatingPoint = 3

	sampleFormatInt   = 2
	sampleFormatFloat = 3
)

var errShortRead = errors.New("short read")

var (
	blockCacheHits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "fit2gpx_geotiff_block_cache_hits_total",
		Help: "The total number of hits on the GeoTIFF block cache",
	})
	blockCacheMisses = promauto.NewCounter(prometheus.CounterOpts{
		Name: "fit2gpx_geotiff_block_cache_misses_total",
		Help: "The total number of misses on the GeoTIFF block cache",
	})
	blockReadErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "fit2gpx_geotiff_block_read_errors_total",
		Help: "The total number of GeoTIFF blocks that could not be read",
	})
)

// A blockCoord is the coordinate of a TIFF tile within an image. TIFF tiles
// are called blocks here to avoid confusion with elevation tiles.
type blockCoord struct {
	C int // Column.
	R int // Row.
}

// A readerAtCloser is an open file that supports random access.
type readerAtCloser interface {
	io.ReaderAt
	io.Closer
}

// A Tile is an open GeoTIFF file covering one cell of geographic coordinates.
// Blocks are read and decoded lazily and held in an LRU cache.
type Tile struct {
	file                       readerAtCloser
	byteOrder                  binary.ByteOrder
	imageWidth                 int
	imageLength                int
	blockWidth                 int
	blockLength                int
	blocksAcross               int
	blocksDown                 int
	blockOffsets               []uint64
	blockByteCounts            []uint64
	blockSampleCount           int
	blockByteCountUncompressed int
	bytesPerSample             int
	compression                uint16
	predictor                  uint16
	sampleFormat               uint16
	noData                     float32
	hasNoData                  bool
	scaleX                     float64
	scaleY                     float64
	translateX                 float64
	translateY                 float64
	pixelIsPoint               bool
	lat                        int
	lon                        int
	blockCacheSizeBytes        int
	blockCache                 *lru.Cache[blockCoord, []float32]
	interpolation              raster.Interpolation
}

// An Option sets an option on a Tile.
type Option func(*Tile)

// A geoTIFFIFD is a struct into which github.com/google/tiff can unmarshal an
// IFD.
type geoTIFFIFD struct {
	ImageWidth                uint16    `tiff:"field,tag=256"`
	ImageLength               uint16    `tiff:"field,tag=257"`
	BitsPerSample             uint16    `tiff:"field,tag=258"`
	Compression               uint16    `tiff:"field,tag=259"`
	PhotometricInterpretation uint16    `tiff:"field,tag=262"`
	SamplesPerPixel           uint16    `tiff:"field,tag=277"`
	PlanarConfiguration       uint16    `tiff:"field,tag=284"`
	Predictor                 uint16    `tiff:"field,tag=317"`
	TileWidth                 uint16    `tiff:"field,tag=322"`
	TileLength                uint16    `tiff:"field,tag=323"`
	TileOffsets               []uint64  `tiff:"field,tag=324"`
	TileByteCounts            []uint64  `tiff:"field,tag=325"`
	SampleFormat              uint16    `tiff:"field,tag=339"`
	ModelPixelScaleTag        []float64 `tiff:"field,tag=33550"`
	ModelTiepointTag          []float64 `tiff:"field,tag=33922"`
	GeoKeyDirectoryTag        []uint16  `tiff:"field,tag=34735"`
	GeoDoubleParamsTag        []float64 `tiff:"field,tag=34736"`
	GeoASCIIParamsTag         string    `tiff:"field,tag=34737"`
	GDALNoData                string    `tiff:"field,tag=42113"`
}

// WithBlockCacheSize sets the size of the decoded block cache in bytes.
func WithBlockCacheSize(blockCacheSizeBytes int) Option {
	return func(t *Tile) {
		t.blockCacheSizeBytes = blockCacheSizeBytes
	}
}

// WithInterpolation sets the interpolation used by Sample.
func WithInterpolation(interpolation raster.Interpolation) Option {
	return func(t *Tile) {
		t.interpolation = interpolation
	}
}

// CopernicusFilename returns the filename of the Copernicus DEM GLO-30 tile
// whose south west corner is at lat, lon.
func CopernicusFilename(lat, lon int) string {
	ns, ew := 'N', 'E'
	if lat < 0 {
		ns = 'S'
	}
	if lon < 0 {
		ew = 'W'
	}
	return fmt.Sprintf("Copernicus_DSM_COG_10_%c%02d_00_%c%03d_00_DEM.tif", ns, abs(lat), ew, abs(lon))
}

// Open opens the GeoTIFF file filename in fsys. The file must support
// io.ReaderAt.
func Open(fsys fs.FS, filename string, options ...Option) (*Tile, error) {
	file, err := fsys.Open(filename)
	if err != nil {
		return nil, err
	}
	rac, ok := file.(readerAtCloser)
	if !ok {
		_ = file.Close()
		return nil, errors.ErrUnsupported
	}
	t, err := New(rac, options...)
	if err != nil {
		_ = file.Close()
		return nil, fmt.Errorf("%s: %w", filename, err)
	}
	return t, nil
}

// New returns a new Tile read from file. The Tile takes ownership of file.
func New(file readerAtCloser, options ...Option) (*Tile, error) {
	t := &Tile{
		file:                file,
		blockCacheSizeBytes: 64 << 20, // 64MB.
	}
	for _, option := range options {
		option(t)
	}

	tiffTIFF, err := tiff.Parse(io.NewSectionReader(file, 0, math.MaxInt64), tiff.GetTagSpace("GeoTIFF"), nil)
	if err != nil {
		return nil, err
	}
	t.byteOrder = byteOrder(tiffTIFF.Order())
	if t.byteOrder == nil {
		return nil, errors.ErrUnsupported
	}

	// Cloud optimized GeoTIFFs store overviews in subsequent IFDs. Only the
	// full resolution image is used.
	if len(tiffTIFF.IFDs()) < 1 {
		return nil, errors.New("no IFDs")
	}

	var ifd geoTIFFIFD
	if err := tiff.UnmarshalIFD(tiffTIFF.IFDs()[0], &ifd); err != nil {
		return nil, err
	}

	switch {
	case ifd.BitsPerSample == 32 && ifd.SampleFormat == sampleFormatFloat:
	case ifd.BitsPerSample == 16 && ifd.SampleFormat == sampleFormatInt:
	default:
		return nil, errors.ErrUnsupported
	}
	switch ifd.Compression {
	case compressionNone, compressionLZW, compressionDeflate, compressionDeflateAdobe:
	default:
		return nil, errors.ErrUnsupported
	}
	switch {
	case ifd.Predictor == 0 || ifd.Predictor == predictorNone:
		ifd.Predictor = predictorNone
	case ifd.Predictor == predictorHorizontal && ifd.SampleFormat == sampleFormatInt:
	case ifd.Predictor == predictorFloatingPoint && ifd.SampleFormat == sampleFormatFloat:
	default:
		return nil, errors.ErrUnsupported
	}
	if ifd.PhotometricInterpretation != 1 ||
		ifd.SamplesPerPixel != 1 ||
		ifd.PlanarConfiguration != 1 ||
		ifd.TileWidth == 0 || ifd.TileLength == 0 ||
		len(ifd.ModelPixelScaleTag) != 3 ||
		len(ifd.ModelTiepointTag) != 6 {
		return nil, errors.ErrUnsupported
	}

	geoKeys, err := ParseGeoKeys(ifd.GeoKeyDirectoryTag, ifd.GeoDoubleParamsTag, ifd.GeoASCIIParamsTag)
	if err != nil {
		return nil, err
	}
	if !geoKeys.Geographic() {
		return nil, errors.ErrUnsupported
	}
	t.pixelIsPoint = geoKeys.PixelIsPoint()

	if ifd.GDALNoData != "" {
		noData, err := strconv.ParseFloat(strings.TrimRight(ifd.GDALNoData, "\x00 "), 32)
		if err != nil {
			return nil, fmt.Errorf("GDAL nodata: %w", err)
		}
		t.noData = float32(noData)
		t.hasNoData = true
	}

	t.imageWidth = int(ifd.ImageWidth)
	t.imageLength = int(ifd.ImageLength)
	t.blockWidth = int(ifd.TileWidth)
	t.blockLength = int(ifd.TileLength)
	t.blocksAcross = (t.imageWidth + t.blockWidth - 1) / t.blockWidth
	t.blocksDown = (t.imageLength + t.blockLength - 1) / t.blockLength
	blocksPerImage := t.blocksAcross * t.blocksDown
	if len(ifd.TileByteCounts) != blocksPerImage || len(ifd.TileOffsets) != blocksPerImage {
		return nil, errors.New("incorrect number of tile byte counts or offsets")
	}
	t.blockOffsets = ifd.TileOffsets
	t.blockByteCounts = ifd.TileByteCounts
	t.blockSampleCount = t.blockWidth * t.blockLength
	t.bytesPerSample = int(ifd.BitsPerSample) / 8
	t.blockByteCountUncompressed = t.blockSampleCount * t.bytesPerSample
	t.compression = ifd.Compression
	t.predictor = ifd.Predictor
	t.sampleFormat = ifd.SampleFormat

	scaleX, scaleY := ifd.ModelPixelScaleTag[0], ifd.ModelPixelScaleTag[1]
	if scaleX <= 0 || scaleY <= 0 {
		return nil, errors.ErrUnsupported
	}
	if i, j := ifd.ModelTiepointTag[0], ifd.ModelTiepointTag[1]; i != 0 || j != 0 {
		return nil, errors.ErrUnsupported
	}
	t.scaleX = scaleX
	t.scaleY = scaleY
	t.translateX = ifd.ModelTiepointTag[3]
	t.translateY = ifd.ModelTiepointTag[4]
	t.lat, t.lon = t.southWest()

	if err := t.initBlockCache(); err != nil {
		return nil, err
	}
	return t, nil
}

func (t *Tile) initBlockCache() error {
	blockCacheCount := max(t.blockCacheSizeBytes/max(t.blockSampleCount*4, 1), 1)
	var err error
	t.blockCache, err = lru.New[blockCoord, []float32](blockCacheCount)
	return err
}

// southWest returns the integer south west corner of the cell containing the
// center of t's image.
func (t *Tile) southWest() (lat, lon int) {
	centerX := t.translateX + float64(t.imageWidth)*t.scaleX/2
	centerY := t.translateY - float64(t.imageLength)*t.scaleY/2
	return int(math.Floor(centerY)), int(math.Floor(centerX))
}

// Close releases the resources associated with t.
func (t *Tile) Close() error {
	return t.file.Close()
}

// SouthWest returns the latitude and longitude of t's south west corner.
func (t *Tile) SouthWest() (lat, lon int) {
	return t.lat, t.lon
}

// Dims returns the number of columns and rows in t.
func (t *Tile) Dims() (int, int) {
	return t.imageWidth, t.imageLength
}

// At returns the sample at col, row. Samples in blocks that cannot be read
// are reported as void.
func (t *Tile) At(col, row int) (float64, bool) {
	if col < 0 || t.imageWidth <= col || row < 0 || t.imageLength <= row {
		return 0, false
	}
	blockSamples, err := t.getBlockSamplesCached(blockCoord{
		C: col / t.blockWidth,
		R: row / t.blockLength,
	})
	if err != nil {
		blockReadErrors.Inc()
		return 0, false
	}
	if blockSamples == nil {
		return 0, false
	}
	sample := blockSamples[col%t.blockWidth+(row%t.blockLength)*t.blockWidth]
	if math.IsNaN(float64(sample)) || t.hasNoData && sample == t.noData {
		return 0, false
	}
	return float64(sample), true
}

// Sample returns the elevation at lon, lat.
func (t *Tile) Sample(lon, lat float64) (float64, bool) {
	x := (lon - t.translateX) / t.scaleX
	y := (t.translateY - lat) / t.scaleY
	if !t.pixelIsPoint {
		x -= 0.5
		y -= 0.5
	}
	return raster.Sample(t, x, y, t.interpolation)
}

// getBlockSamplesCached returns the samples of the block at coord using t's
// cache. Empty blocks are returned as nil.
func (t *Tile) getBlockSamplesCached(coord blockCoord) ([]float32, error) {
	if blockSamples, ok := t.blockCache.Get(coord); ok {
		blockCacheHits.Inc()
		return blockSamples, nil
	}
	blockCacheMisses.Inc()
	blockSamples, err := t.getBlockSamples(coord)
	if err != nil {
		return nil, err
	}
	t.blockCache.Add(coord, blockSamples)
	return blockSamples, nil
}

// getBlockSamples reads, decompresses, and decodes the block at coord.
func (t *Tile) getBlockSamples(coord blockCoord) ([]float32, error) {
	compressedData, err := t.getCompressedBlockData(coord)
	switch {
	case err != nil:
		return nil, err
	case compressedData == nil:
		return nil, nil
	}
	blockData, err := t.decompressBlockData(compressedData)
	if err != nil {
		return nil, err
	}
	return t.decodeBlockData(blockData), nil
}

// getCompressedBlockData returns the compressed data of the block at coord.
// Sparse blocks, with no data in the file, are returned as nil.
func (t *Tile) getCompressedBlockData(coord blockCoord) ([]byte, error) {
	blockIndex := coord.C + t.blocksAcross*coord.R
	blockByteCount := t.blockByteCounts[blockIndex]
	if blockByteCount == 0 {
		return nil, nil
	}
	compressedData := make([]byte, blockByteCount)
	switch n, err := t.file.ReadAt(compressedData, int64(t.blockOffsets[blockIndex])); {
	case n != int(blockByteCount):
		if err != nil {
			return nil, err
		}
		return nil, errShortRead
	default:
		return compressedData, nil
	}
}

// byteOrder returns the byte order of a TIFF file from the first two bytes of
// its header, "II" or "MM", or nil if order is neither.
func byteOrder(order string) binary.ByteOrder {
	if len(order) != 2 {
		return nil
	}
	return tiff.GetByteOrder(binary.BigEndian.Uint16([]byte(order)))
}

// decompressBlockData decompresses the block data in compressedData.
func (t *Tile) decompressBlockData(compressedData []byte) ([]byte, error) {
	var r io.Reader
	switch t.compression {
	case compressionNone:
		r = bytes.NewReader(compressedData)
	case compressionLZW:
		lzwReader := lzw.NewReader(bytes.NewReader(compressedData), lzw.MSB, 8)
		defer lzwReader.Close()
		r = lzwReader
	case compressionDeflate, compressionDeflateAdobe:
		zlibReader, err := zlib.NewReader(bytes.NewReader(compressedData))
		if err != nil {
			return nil, err
		}
		defer zlibReader.Close()
		r = zlibReader
	default:
		return nil, errors.ErrUnsupported
	}
	blockData := make([]byte, t.blockByteCountUncompressed)
	if _, err := io.ReadFull(r, blockData); err != nil {
		return nil, err
	}
	if t.predictor == predictorFloatingPoint {
		undoFloatingPointPredictor(blockData, t.blockWidth, t.bytesPerSample)
	}
	return blockData, nil
}

// decodeBlockData decodes blockData.
func (t *Tile) decodeBlockData(blockData []byte) []float32 {
	blockSamples := make([]float32, t.blockSampleCount)
	switch {
	case t.sampleFormat == sampleFormatFloat && t.predictor == predictorFloatingPoint:
		// The floating point predictor leaves samples in big-endian order.
		for i := range t.blockSampleCount {
			blockSamples[i] = math.Float32frombits(binary.BigEndian.Uint32(blockData[4*i : 4*(i+1)]))
		}
	case t.sampleFormat == sampleFormatFloat:
		// Other samples are in the file's byte order.
		for i := range t.blockSampleCount {
			blockSamples[i] = math.Float32frombits(t.byteOrder.Uint32(blockData[4*i : 4*(i+1)]))
		}
	default:
		for r := range t.blockLength {
			var prev int16
			for c := range t.blockWidth {
				i := r*t.blockWidth + c
				sample := int16(t.byteOrder.Uint16(blockData[2*i : 2*(i+1)]))
				if t.predictor == predictorHorizontal {
					sample += prev
					prev = sample
				}
				blockSamples[i] = float32(sample)
			}
		}
	}
	return blockSamples
}

// undoFloatingPointPredictor reverses TIFF's floating point predictor in
// place. Each row is byte-wise differenced and then split into byte planes,
// most significant byte first.
func undoFloatingPointPredictor(data []byte, width, bytesPerSample int) {
	rowSize := width * bytesPerSample
	row := make([]byte, rowSize)
	for offset := 0; offset+rowSize <= len(data); offset += rowSize {
		copy(row, data[offset:offset+rowSize])
		for i := 1; i < rowSize; i++ {
			row[i] += row[i-1]
		}
		for i := range width {
			for b := range bytesPerSample {
				data[offset+i*bytesPerSample+b] = row[b*width+i]
			}
		}
	}
}

func abs(x int) int {
	if x < 0 {
		return -x
	}
	return x
}
