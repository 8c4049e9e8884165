package geometry

import "github.com/paulmach/orb"

// BoundsOf computes the minimum enclosing axis-aligned box of a surface.
// Only outer rings matter: holes never extend the bound.
func BoundsOf(mp orb.MultiPolygon) AABB {
	b := AABB{
		MinX: mp[0][0][0][0],
		MinY: mp[0][0][0][1],
		MaxX: mp[0][0][0][0],
		MaxY: mp[0][0][0][1],
	}
	for _, poly := range mp {
		for _, pt := range poly[0] {
			if pt[0] < b.MinX {
				b.MinX = pt[0]
			}
			if pt[0] > b.MaxX {
				b.MaxX = pt[0]
			}
			if pt[1] < b.MinY {
				b.MinY = pt[1]
			}
			if pt[1] > b.MaxY {
				b.MaxY = pt[1]
			}
		}
	}
	return b
}

// PointInSurface reports whether p lies within the surface, boundary
// inclusive: points strictly inside a component (outside its holes) and
// points within eps of any ring both count.
func PointInSurface(p orb.Point, mp orb.MultiPolygon, eps float64) bool {
	if pointInSurfaceStrict(p, mp) {
		return true
	}
	return boundaryDist2(p, mp) <= eps*eps
}

// DistToSurface2 returns the squared Euclidean distance from p to the
// surface: zero when p lies inside a component, otherwise the minimum
// squared distance to any ring over all components.
func DistToSurface2(p orb.Point, mp orb.MultiPolygon) float64 {
	if pointInSurfaceStrict(p, mp) {
		return 0
	}
	return boundaryDist2(p, mp)
}

// pointInSurfaceStrict is an even-odd ray cast over every component:
// inside the outer ring and outside every hole. Points exactly on an edge
// may fall either way; callers fold them in through the eps boundary test.
func pointInSurfaceStrict(p orb.Point, mp orb.MultiPolygon) bool {
	for _, poly := range mp {
		if !ringContains(poly[0], p) {
			continue
		}
		inHole := false
		for _, hole := range poly[1:] {
			if ringContains(hole, p) {
				inHole = true
				break
			}
		}
		if !inHole {
			return true
		}
	}
	return false
}

// ringContains runs the even-odd crossing test against one ring.
func ringContains(ring orb.Ring, p orb.Point) bool {
	in := false
	for i := 0; i+1 < len(ring); i++ {
		a, b := ring[i], ring[i+1]
		if (a[1] > p[1]) != (b[1] > p[1]) {
			x := a[0] + (p[1]-a[1])/(b[1]-a[1])*(b[0]-a[0])
			if p[0] < x {
				in = !in
			}
		}
	}
	return in
}

// boundaryDist2 is the minimum squared distance from p to any ring segment,
// holes included.
func boundaryDist2(p orb.Point, mp orb.MultiPolygon) float64 {
	best := -1.0
	for _, poly := range mp {
		for _, ring := range poly {
			for i := 0; i+1 < len(ring); i++ {
				d2 := segmentDist2(p, ring[i], ring[i+1])
				if best < 0 || d2 < best {
					best = d2
				}
			}
		}
	}
	return best
}

// segmentDist2 is the squared distance from p to the segment ab.
func segmentDist2(p, a, b orb.Point) float64 {
	abx := b[0] - a[0]
	aby := b[1] - a[1]
	apx := p[0] - a[0]
	apy := p[1] - a[1]

	len2 := abx*abx + aby*aby
	if len2 == 0 {
		return apx*apx + apy*apy
	}

	t := (apx*abx + apy*aby) / len2
	if t < 0 {
		t = 0
	} else if t > 1 {
		t = 1
	}

	dx := p[0] - (a[0] + t*abx)
	dy := p[1] - (a[1] + t*aby)
	return dx*dx + dy*dy
}
