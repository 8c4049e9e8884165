// Package rtree provides a static, bulk-loaded R-tree over axis-aligned
// boxes. The tree stores item indices only, never geometry; packing is
// deterministic (Sort-Tile-Recursive with full tie-breaking) so two builds
// over the same items produce identical trees.
package rtree

import (
	"container/heap"
	"math"
	"sort"

	"ban-cadastre-engine/internal/geometry"
)

// DefaultLeafSize is the fixed leaf fan-out.
const DefaultLeafSize = 16

// Item associates a bounding box with a caller-owned index.
type Item struct {
	Bounds geometry.AABB
	Index  int
}

type node struct {
	bounds geometry.AABB
	// Leaves reference a range of tree.items, internal nodes a range of
	// tree.nodes one level below.
	first, count int
	leaf         bool
}

// Tree is a static R-tree. Build once, query from any number of goroutines.
type Tree struct {
	items []Item
	nodes []node
	root  int
}

// Build bulk-loads a tree with STR packing. A leafSize below 2 falls back
// to DefaultLeafSize.
func Build(items []Item, leafSize int) *Tree {
	if leafSize < 2 {
		leafSize = DefaultLeafSize
	}

	t := &Tree{items: make([]Item, len(items))}
	copy(t.items, items)
	if len(t.items) == 0 {
		t.root = -1
		return t
	}

	// Sort-Tile-Recursive: order by center x, cut into vertical slices,
	// order each slice by center y, then pack runs of leafSize.
	sort.Slice(t.items, func(i, j int) bool {
		return itemLess(t.items[i], t.items[j], true)
	})

	n := len(t.items)
	leafCount := (n + leafSize - 1) / leafSize
	sliceCount := int(math.Ceil(math.Sqrt(float64(leafCount))))
	sliceLen := sliceCount * leafSize

	for start := 0; start < n; start += sliceLen {
		end := start + sliceLen
		if end > n {
			end = n
		}
		slice := t.items[start:end]
		sort.Slice(slice, func(i, j int) bool {
			return itemLess(slice[i], slice[j], false)
		})
	}

	// Pack the leaf level.
	levelStart := 0
	for first := 0; first < n; first += leafSize {
		count := leafSize
		if first+count > n {
			count = n - first
		}
		b := t.items[first].Bounds
		for _, it := range t.items[first+1 : first+count] {
			b = b.Union(it.Bounds)
		}
		t.nodes = append(t.nodes, node{bounds: b, first: first, count: count, leaf: true})
	}

	// Pack internal levels until one root remains.
	for levelLen := len(t.nodes) - levelStart; levelLen > 1; {
		nextStart := len(t.nodes)
		for first := levelStart; first < nextStart; first += leafSize {
			count := leafSize
			if first+count > nextStart {
				count = nextStart - first
			}
			b := t.nodes[first].bounds
			for _, child := range t.nodes[first+1 : first+count] {
				b = b.Union(child.bounds)
			}
			t.nodes = append(t.nodes, node{bounds: b, first: first, count: count})
		}
		levelStart = nextStart
		levelLen = len(t.nodes) - levelStart
	}
	t.root = len(t.nodes) - 1

	return t
}

func itemLess(a, b Item, byX bool) bool {
	acx, acy := center(a.Bounds)
	bcx, bcy := center(b.Bounds)
	if byX {
		if acx != bcx {
			return acx < bcx
		}
		if acy != bcy {
			return acy < bcy
		}
	} else {
		if acy != bcy {
			return acy < bcy
		}
		if acx != bcx {
			return acx < bcx
		}
	}
	return a.Index < b.Index
}

func center(b geometry.AABB) (float64, float64) {
	return (b.MinX + b.MaxX) / 2, (b.MinY + b.MaxY) / 2
}

// Len returns the number of indexed items.
func (t *Tree) Len() int {
	return len(t.items)
}

// Search invokes fn with the index of every item whose box intersects q.
// Visit order is tree traversal order, not distance order.
func (t *Tree) Search(q geometry.AABB, fn func(index int)) {
	if t.root < 0 {
		return
	}
	t.search(t.root, q, fn)
}

func (t *Tree) search(ni int, q geometry.AABB, fn func(index int)) {
	nd := &t.nodes[ni]
	if !nd.bounds.Intersects(q) {
		return
	}
	if nd.leaf {
		for _, it := range t.items[nd.first : nd.first+nd.count] {
			if it.Bounds.Intersects(q) {
				fn(it.Index)
			}
		}
		return
	}
	for ci := nd.first; ci < nd.first+nd.count; ci++ {
		t.search(ci, q, fn)
	}
}

// walkEntry is one pending heap entry of a nearest walk: either a node or a
// concrete item, keyed by the squared box distance to the query point.
type walkEntry struct {
	d2   float64
	item bool
	ref  int
}

type walkHeap []walkEntry

func (h walkHeap) Len() int { return len(h) }
func (h walkHeap) Less(i, j int) bool {
	if h[i].d2 != h[j].d2 {
		return h[i].d2 < h[j].d2
	}
	// Tie-break so that heap order never depends on insertion history.
	if h[i].item != h[j].item {
		return h[j].item
	}
	return h[i].ref < h[j].ref
}
func (h walkHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }
func (h *walkHeap) Push(x any)   { *h = append(*h, x.(walkEntry)) }
func (h *walkHeap) Pop() any {
	old := *h
	n := len(old)
	e := old[n-1]
	*h = old[:n-1]
	return e
}

// NearestWalk performs a best-first descent from (x, y). Every item whose
// box distance does not exceed the running bound is handed to visit along
// with that squared box distance; visit returns a possibly tightened bound.
// The walk stops as soon as the closest pending entry lies strictly beyond
// the bound.
func (t *Tree) NearestWalk(x, y, bound float64, visit func(index int, boxDist2 float64) float64) {
	if t.root < 0 {
		return
	}

	h := walkHeap{{d2: t.nodes[t.root].bounds.PointDist2(x, y), ref: t.root}}
	for len(h) > 0 {
		e := heap.Pop(&h).(walkEntry)

		if e.d2 > bound {
			return
		}

		if e.item {
			if next := visit(t.items[e.ref].Index, e.d2); next < bound {
				bound = next
			}
			continue
		}

		nd := &t.nodes[e.ref]
		if nd.leaf {
			for i := nd.first; i < nd.first+nd.count; i++ {
				d2 := t.items[i].Bounds.PointDist2(x, y)
				if d2 <= bound {
					heap.Push(&h, walkEntry{d2: d2, item: true, ref: i})
				}
			}
			continue
		}
		for ci := nd.first; ci < nd.first+nd.count; ci++ {
			d2 := t.nodes[ci].bounds.PointDist2(x, y)
			if d2 <= bound {
				heap.Push(&h, walkEntry{d2: d2, ref: ci})
			}
		}
	}
}
