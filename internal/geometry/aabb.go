// Package geometry implements the planar kernel of the matching engine:
// axis-aligned bounding boxes, point-in-polygon tests and exact squared
// distances over geometries in the working metric frame. Comparisons stay
// in squared distance space; callers take the square root once, on emit.
package geometry

// AABB is an axis-aligned bounding box.
type AABB struct {
	MinX, MinY, MaxX, MaxY float64
}

// Intersects reports whether the two boxes overlap, borders included.
func (b AABB) Intersects(o AABB) bool {
	return b.MinX <= o.MaxX && o.MinX <= b.MaxX &&
		b.MinY <= o.MaxY && o.MinY <= b.MaxY
}

// ContainsPoint reports whether (x, y) lies in the box, borders included.
func (b AABB) ContainsPoint(x, y float64) bool {
	return x >= b.MinX && x <= b.MaxX && y >= b.MinY && y <= b.MaxY
}

// ExpandedBy grows the box by r on each side.
func (b AABB) ExpandedBy(r float64) AABB {
	return AABB{
		MinX: b.MinX - r,
		MinY: b.MinY - r,
		MaxX: b.MaxX + r,
		MaxY: b.MaxY + r,
	}
}

// MaxSide returns the longest side length.
func (b AABB) MaxSide() float64 {
	w := b.MaxX - b.MinX
	h := b.MaxY - b.MinY
	if w > h {
		return w
	}
	return h
}

// PointDist2 returns the squared distance from (x, y) to the box, zero when
// the point lies inside.
func (b AABB) PointDist2(x, y float64) float64 {
	var dx, dy float64
	if x < b.MinX {
		dx = b.MinX - x
	} else if x > b.MaxX {
		dx = x - b.MaxX
	}
	if y < b.MinY {
		dy = b.MinY - y
	} else if y > b.MaxY {
		dy = y - b.MaxY
	}
	return dx*dx + dy*dy
}

// Union returns the smallest box covering both.
func (b AABB) Union(o AABB) AABB {
	if o.MinX < b.MinX {
		b.MinX = o.MinX
	}
	if o.MinY < b.MinY {
		b.MinY = o.MinY
	}
	if o.MaxX > b.MaxX {
		b.MaxX = o.MaxX
	}
	if o.MaxY > b.MaxY {
		b.MaxY = o.MaxY
	}
	return b
}

// PointAABB returns the degenerate box of a single point.
func PointAABB(x, y float64) AABB {
	return AABB{MinX: x, MinY: y, MaxX: x, MaxY: y}
}
