package geometry

import (
	"errors"
	"fmt"
	"math"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/encoding/wkb"
	"github.com/paulmach/orb/planar"
)

// Validation errors, fatal at load time.
var (
	ErrEmptyGeometry       = errors.New("geometry is empty")
	ErrNonFiniteCoordinate = errors.New("coordinate is not finite")
	ErrOpenRing            = errors.New("polygon outer ring is not closed")
	ErrNonPositiveArea     = errors.New("polygon area is not positive")
	ErrUnsupportedGeometry = errors.New("unsupported geometry type")
)

// DecodeSurface parses WKB into a multipolygon. A plain polygon is wrapped
// into a single-component multipolygon so the rest of the kernel handles
// one shape.
func DecodeSurface(data []byte) (orb.MultiPolygon, error) {
	if len(data) == 0 {
		return nil, ErrEmptyGeometry
	}

	geom, err := wkb.Unmarshal(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse WKB: %w", err)
	}

	switch g := geom.(type) {
	case orb.Polygon:
		return orb.MultiPolygon{g}, nil
	case orb.MultiPolygon:
		return g, nil
	default:
		return nil, fmt.Errorf("%w: %T", ErrUnsupportedGeometry, geom)
	}
}

// DecodePoint parses WKB into a point.
func DecodePoint(data []byte) (orb.Point, error) {
	if len(data) == 0 {
		return orb.Point{}, ErrEmptyGeometry
	}

	geom, err := wkb.Unmarshal(data)
	if err != nil {
		return orb.Point{}, fmt.Errorf("failed to parse WKB: %w", err)
	}

	p, ok := geom.(orb.Point)
	if !ok {
		return orb.Point{}, fmt.Errorf("%w: %T", ErrUnsupportedGeometry, geom)
	}
	return p, nil
}

// ValidatePoint rejects non-finite coordinates.
func ValidatePoint(p orb.Point) error {
	if !isFinite(p[0]) || !isFinite(p[1]) {
		return ErrNonFiniteCoordinate
	}
	return nil
}

// ValidateSurface rejects empty geometries, non-finite coordinates, open
// outer rings and degenerate (zero-area) shapes.
func ValidateSurface(mp orb.MultiPolygon) error {
	if len(mp) == 0 {
		return ErrEmptyGeometry
	}

	for _, poly := range mp {
		if len(poly) == 0 || len(poly[0]) < 4 {
			return ErrEmptyGeometry
		}
		for _, ring := range poly {
			if !ring.Closed() {
				return ErrOpenRing
			}
			for _, pt := range ring {
				if !isFinite(pt[0]) || !isFinite(pt[1]) {
					return ErrNonFiniteCoordinate
				}
			}
		}
	}

	if planar.Area(mp) <= 0 {
		return ErrNonPositiveArea
	}
	return nil
}

func isFinite(v float64) bool {
	return !math.IsInf(v, 0) && !math.IsNaN(v)
}
