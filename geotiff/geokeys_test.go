package geotiff

import (
	"errors"
	"testing"

	"github.com/alecthomas/assert/v2"
)

func TestParseGeoKeys(t *testing.T) {
	for _, tc := range []struct {
		name                 string
		directory            []uint16
		doubleParams         []float64
		asciiParams          string
		expected             *GeoKeys
		expectedGeographic   bool
		expectedPixelIsPoint bool
	}{
		{
			name: "copernicus",
			directory: []uint16{
				1, 1, 0, 4,
				1024, 0, 1, 2,
				1025, 0, 1, 1,
				2048, 0, 1, 4326,
				2049, 34737, 7, 0,
			},
			asciiParams: "WGS 84|",
			expected: &GeoKeys{
				Params: map[GeoKey]int{
					GeoKeyGTModelType:  ModelTypeGeographic,
					GeoKeyGTRasterType: RasterPixelIsArea,
					GeoKeyGeodeticCRS:  EPSGWGS84,
				},
				DoubleParams: map[GeoKey]float64{},
				ASCIIParams: map[GeoKey]string{
					GeoKeyGeogCitation: "WGS 84|",
				},
			},
			expectedGeographic: true,
		},
		{
			name: "srtm_pixel_is_point",
			directory: []uint16{
				1, 1, 0, 3,
				1024, 0, 1, 2,
				1025, 0, 1, 2,
				2054, 34736, 1, 0,
			},
			doubleParams: []float64{0.0174532925199433},
			expected: &GeoKeys{
				Params: map[GeoKey]int{
					GeoKeyGTModelType:  ModelTypeGeographic,
					GeoKeyGTRasterType: RasterPixelIsPoint,
				},
				DoubleParams: map[GeoKey]float64{
					GeoKeyAngularUnits: 0.0174532925199433,
				},
				ASCIIParams: map[GeoKey]string{},
			},
			expectedGeographic:   true,
			expectedPixelIsPoint: true,
		},
		{
			name: "eu_dem_projected",
			directory: []uint16{
				1, 1, 0, 4,
				1024, 0, 1, 1,
				1025, 0, 1, 1,
				2048, 0, 1, 4258,
				3072, 0, 1, 32767,
			},
			expected: &GeoKeys{
				Params: map[GeoKey]int{
					GeoKeyGTModelType:  ModelTypeProjected,
					GeoKeyGTRasterType: RasterPixelIsArea,
					GeoKeyGeodeticCRS:  4258,
					GeoKeyProjectedCRS: 32767,
				},
				DoubleParams: map[GeoKey]float64{},
				ASCIIParams:  map[GeoKey]string{},
			},
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			actual, err := ParseGeoKeys(tc.directory, tc.doubleParams, tc.asciiParams)
			assert.NoError(t, err)
			assert.Equal(t, tc.expected, actual)
			assert.Equal(t, tc.expectedGeographic, actual.Geographic())
			assert.Equal(t, tc.expectedPixelIsPoint, actual.PixelIsPoint())
		})
	}
}

func TestParseGeoKeysErrors(t *testing.T) {
	for _, tc := range []struct {
		name        string
		directory   []uint16
		expectedErr error
	}{
		{name: "short", directory: []uint16{1, 1, 0}, expectedErr: errParse},
		{name: "version", directory: []uint16{2, 1, 0, 0}, expectedErr: errParse},
		{name: "count", directory: []uint16{1, 1, 0, 2, 1024, 0, 1, 2}, expectedErr: errParse},
		{name: "double_index", directory: []uint16{1, 1, 0, 1, 2054, 34736, 1, 3}, expectedErr: errParse},
		{name: "ascii_range", directory: []uint16{1, 1, 0, 1, 2049, 34737, 50, 0}, expectedErr: errParse},
		{name: "location", directory: []uint16{1, 1, 0, 1, 1024, 1234, 1, 0}, expectedErr: errors.ErrUnsupported},
	} {
		t.Run(tc.name, func(t *testing.T) {
			_, err := ParseGeoKeys(tc.directory, nil, "")
			assert.IsError(t, err, tc.expectedErr)
		})
	}
}
