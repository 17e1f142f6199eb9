package geotiff

import (
	"errors"
	"fmt"
)

var errParse = errors.New("parse error")

type GeoKey uint16

const (
	GeoKeyGTModelType  GeoKey = 1024
	GeoKeyGTRasterType GeoKey = 1025
	GeoKeyGTCitation   GeoKey = 1026

	GeoKeyGeodeticCRS   GeoKey = 2048
	GeoKeyGeogCitation  GeoKey = 2049
	GeoKeyGeodeticDatum GeoKey = 2050
	GeoKeyAngularUnits  GeoKey = 2054

	GeoKeyProjectedCRS GeoKey = 3072

	GeoKeyVertical GeoKey = 4096
)

// Values of GeoKeyGTModelType.
const (
	ModelTypeProjected  = 1
	ModelTypeGeographic = 2
	ModelTypeGeocentric = 3
)

// Values of GeoKeyGTRasterType.
const (
	RasterPixelIsArea  = 1
	RasterPixelIsPoint = 2
)

// EPSGWGS84 is the EPSG code of WGS 84 geographic coordinates.
const EPSGWGS84 = 4326

const (
	tagGeoDoubleParams = 34736
	tagGeoASCIIParams  = 34737
)

// GeoKeys are the parsed contents of a GeoKeyDirectoryTag.
type GeoKeys struct {
	Params       map[GeoKey]int
	DoubleParams map[GeoKey]float64
	ASCIIParams  map[GeoKey]string
}

// ParseGeoKeys parses a GeoKeyDirectoryTag and its associated parameter tags.
func ParseGeoKeys(directory []uint16, doubleParams []float64, asciiParams string) (*GeoKeys, error) {
	if len(directory) < 4 {
		return nil, errParse
	}
	if keyDirectoryVersion, keyRevision := directory[0], directory[1]; keyDirectoryVersion != 1 || keyRevision != 1 {
		return nil, errParse
	}
	if minorRevision := directory[2]; minorRevision > 1 {
		return nil, errParse
	}
	numberOfKeys := int(directory[3])
	if len(directory) != 4+4*numberOfKeys {
		return nil, errParse
	}

	geoKeys := &GeoKeys{
		Params:       make(map[GeoKey]int),
		DoubleParams: make(map[GeoKey]float64),
		ASCIIParams:  make(map[GeoKey]string),
	}
	for i := range numberOfKeys {
		entry := directory[4+4*i : 4+4*(i+1)]
		key, location, count, value := GeoKey(entry[0]), int(entry[1]), int(entry[2]), int(entry[3])
		switch location {
		case 0:
			if count != 1 {
				return nil, fmt.Errorf("key %d: %w", key, errParse)
			}
			geoKeys.Params[key] = value
		case tagGeoDoubleParams:
			if count != 1 {
				return nil, errors.ErrUnsupported
			}
			if value >= len(doubleParams) {
				return nil, fmt.Errorf("key %d: %w", key, errParse)
			}
			geoKeys.DoubleParams[key] = doubleParams[value]
		case tagGeoASCIIParams:
			if value+count > len(asciiParams) {
				return nil, fmt.Errorf("key %d: %w", key, errParse)
			}
			geoKeys.ASCIIParams[key] = asciiParams[value : value+count]
		default:
			return nil, errors.ErrUnsupported
		}
	}
	return geoKeys, nil
}

// Geographic returns whether k describes a geographic WGS 84 model. A missing
// model type or CRS is assumed to be geographic WGS 84.
func (k *GeoKeys) Geographic() bool {
	if modelType, ok := k.Params[GeoKeyGTModelType]; ok && modelType != ModelTypeGeographic {
		return false
	}
	if crs, ok := k.Params[GeoKeyGeodeticCRS]; ok && crs != EPSGWGS84 {
		return false
	}
	return true
}

// PixelIsPoint returns whether pixel values are point samples, rather than
// areas.
func (k *GeoKeys) PixelIsPoint() bool {
	return k.Params[GeoKeyGTRasterType] == RasterPixelIsPoint
}
