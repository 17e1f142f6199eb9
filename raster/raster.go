// Package raster samples regular grids of elevation values.
package raster

import (
	"fmt"
	"math"
)

// A Grid is a regular grid of samples. At returns false for void samples and
// coordinates outside the grid.
type Grid interface {
	Dims() (cols, rows int)
	At(col, row int) (float64, bool)
}

// An Interpolation is a method of sampling between grid points.
type Interpolation int

const (
	Nearest Interpolation = iota
	Bilinear
)

// ParseInterpolation parses s as an Interpolation.
func ParseInterpolation(s string) (Interpolation, error) {
	switch s {
	case "nearest", "":
		return Nearest, nil
	case "bilinear":
		return Bilinear, nil
	default:
		return 0, fmt.Errorf("%s: unknown interpolation", s)
	}
}

func (i Interpolation) String() string {
	switch i {
	case Nearest:
		return "nearest"
	case Bilinear:
		return "bilinear"
	default:
		return fmt.Sprintf("Interpolation(%d)", int(i))
	}
}

// Sample returns the sample of g at the fractional grid coordinate (x, y),
// where integer coordinates are the centers of grid points.
func Sample(g Grid, x, y float64, interpolation Interpolation) (float64, bool) {
	if interpolation == Bilinear {
		return InterpolateBilinear(g, x, y)
	}
	return SampleNearest(g, x, y)
}

// SampleNearest returns the sample at the grid point nearest to (x, y).
func SampleNearest(g Grid, x, y float64) (float64, bool) {
	if math.IsNaN(x) || math.IsNaN(y) {
		return 0, false
	}
	return g.At(int(math.Round(x)), int(math.Round(y)))
}

// InterpolateBilinear returns the bilinear interpolation of the four grid
// points surrounding (x, y). Points on the last row or column use the edge
// grid points. If any of the four grid points is void, there is no sample.
func InterpolateBilinear(g Grid, x, y float64) (float64, bool) {
	if math.IsNaN(x) || math.IsNaN(y) {
		return 0, false
	}
	cols, rows := g.Dims()
	if x < 0 || float64(cols-1) < x || y < 0 || float64(rows-1) < y {
		return SampleNearest(g, x, y)
	}
	c0, r0 := int(x), int(y)
	c1, r1 := min(c0+1, cols-1), min(r0+1, rows-1)
	dx, dy := x-float64(c0), y-float64(r0)
	var samples [4]float64
	for i, cr := range [4][2]int{{c0, r0}, {c1, r0}, {c0, r1}, {c1, r1}} {
		sample, ok := g.At(cr[0], cr[1])
		if !ok {
			return 0, false
		}
		samples[i] = sample
	}
	return 0 +
		samples[0]*(1-dx)*(1-dy) +
		samples[1]*dx*(1-dy) +
		samples[2]*(1-dx)*dy +
		samples[3]*dx*dy, true
}
