package models

import (
	"github.com/paulmach/orb"

	"ban-cadastre-engine/internal/geometry"
)

// Parcel is one cadastral parcel, already reprojected to the working metric
// frame. Geometry is normalized to a multipolygon at load time and assumed
// valid (closed rings, no self-intersection).
type Parcel struct {
	ID        string
	CodeInsee string
	Geom      orb.MultiPolygon
	// Bounds is the precomputed minimum enclosing box, used by both R-trees.
	Bounds geometry.AABB
}
