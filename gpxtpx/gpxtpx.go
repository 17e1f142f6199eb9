// Package gpxtpx adds Garmin TrackPointExtension v2 elements to GPX documents
// written with github.com/twpayne/go-gpx.
package gpxtpx

import (
	"encoding/xml"
	"slices"

	"github.com/twpayne/go-gpx"
)

const (
	Namespace      = "http://www.garmin.com/xmlschemas/TrackPointExtension/v2"
	SchemaLocation = "https://www8.garmin.com/xmlschemas/TrackPointExtensionv2.xsd"
)

// A TrackPointExtension holds the sensor values of a track point. Nil values
// are omitted.
type TrackPointExtension struct {
	XMLName xml.Name `xml:"gpxtpx:TrackPointExtension"`
	ATemp   *float64 `xml:"gpxtpx:atemp,omitempty"`
	HR      *int     `xml:"gpxtpx:hr,omitempty"`
	Cad     *int     `xml:"gpxtpx:cad,omitempty"`
	Speed   *float64 `xml:"gpxtpx:speed,omitempty"`
}

// IsZero returns true if e has no values.
func (e *TrackPointExtension) IsZero() bool {
	return e == nil || e.ATemp == nil && e.HR == nil && e.Cad == nil && e.Speed == nil
}

// Extensions returns e as the extensions of a GPX waypoint, or nil if e has
// no values.
func (e *TrackPointExtension) Extensions() (*gpx.ExtensionsType, error) {
	if e.IsZero() {
		return nil, nil
	}
	data, err := xml.Marshal(e)
	if err != nil {
		return nil, err
	}
	return &gpx.ExtensionsType{
		XML: data,
	}, nil
}

// Declare declares the gpxtpx namespace and its schema location on g.
func Declare(g *gpx.GPX) {
	if g.XMLAttrs == nil {
		g.XMLAttrs = make(map[string]string)
	}
	g.XMLAttrs["xmlns:gpxtpx"] = Namespace
	if !slices.Contains(g.XMLSchemaLocations, Namespace) {
		g.XMLSchemaLocations = append(g.XMLSchemaLocations, Namespace, SchemaLocation)
	}
}
