// Package matcher implements the three-stage parcel-address matching engine.
//
// Stage 1 walks parcels and emits pre-existing links and containment hits.
// Stage 2 walks addresses and rescues those sitting just outside a parcel
// border. Stage 3 walks the parcels still unmatched and associates each with
// its globally nearest address under a hard cap. Stages run in order with a
// barrier between them; each stage is internally parallel over contiguous
// chunks of its driving entity, and per-worker buffers are merged in entity
// index order so the output is bit-identical across runs.
package matcher

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"ban-cadastre-engine/internal/config"
	"ban-cadastre-engine/internal/geometry"
	"ban-cadastre-engine/internal/models"
	"ban-cadastre-engine/internal/rtree"
	"ban-cadastre-engine/internal/services/writer"
	"ban-cadastre-engine/internal/utils"
)

// Engine owns the state of one matching run. Entities are immutable after
// construction; the only shared-mutable state across workers is the
// per-parcel matched latch.
type Engine struct {
	opts      *config.Options
	addresses []models.Address
	parcels   []models.Parcel

	parcelTree *rtree.Tree
	addrTree   *rtree.Tree

	// preexisting maps a parcel index to the addresses that assert a link to
	// it, in address index order, same-INSEE links only.
	preexisting map[int][]int
	// linkedByAddr is the reverse view, used to keep one row per pair.
	linkedByAddr [][]int

	// matched latches are set by Stages 1 and 2 and read by Stage 3 after a
	// barrier. Writes are monotonic false -> true.
	matched []atomic.Bool
}

// Stats summarizes one matching run.
type Stats struct {
	Parcels        int
	Addresses      int
	RowsByType     map[models.MatchType]int
	TotalRows      int
	IndexBuildTime time.Duration
	MatchTime      time.Duration
}

// NewEngine indexes the given entities and prepares a run. The input slices
// are borrowed read-only for the lifetime of the engine.
func NewEngine(addresses []models.Address, parcels []models.Parcel, opts *config.Options) *Engine {
	e := &Engine{
		opts:         opts,
		addresses:    addresses,
		parcels:      parcels,
		preexisting:  make(map[int][]int),
		linkedByAddr: make([][]int, len(addresses)),
		matched:      make([]atomic.Bool, len(parcels)),
	}

	parcelByID := make(map[string]int, len(parcels))
	for pi := range parcels {
		parcelByID[parcels[pi].ID] = pi
	}
	for ai := range addresses {
		a := &addresses[ai]
		for _, pid := range a.ExistingLinks {
			pi, ok := parcelByID[pid]
			if !ok {
				// Ghost link: the referenced parcel is not in the loaded set.
				continue
			}
			if parcels[pi].CodeInsee != a.CodeInsee {
				// Cross-municipality links are rejected.
				continue
			}
			if containsInt(e.linkedByAddr[ai], pi) {
				continue
			}
			e.preexisting[pi] = append(e.preexisting[pi], ai)
			e.linkedByAddr[ai] = append(e.linkedByAddr[ai], pi)
		}
	}

	return e
}

// Run executes the three stages, streaming rows to sink. On error no further
// rows are written and the caller owns aborting the sink.
func (e *Engine) Run(ctx context.Context, sink writer.Sink) (*Stats, error) {
	stats := &Stats{
		Parcels:    len(e.parcels),
		Addresses:  len(e.addresses),
		RowsByType: make(map[models.MatchType]int),
	}

	buildStart := time.Now()
	parcelItems := make([]rtree.Item, len(e.parcels))
	for pi := range e.parcels {
		parcelItems[pi] = rtree.Item{Bounds: e.parcels[pi].Bounds, Index: pi}
	}
	e.parcelTree = rtree.Build(parcelItems, rtree.DefaultLeafSize)

	addrItems := make([]rtree.Item, len(e.addresses))
	for ai := range e.addresses {
		p := e.addresses[ai].Point
		addrItems[ai] = rtree.Item{Bounds: geometry.PointAABB(p[0], p[1]), Index: ai}
	}
	e.addrTree = rtree.Build(addrItems, rtree.DefaultLeafSize)
	stats.IndexBuildTime = time.Since(buildStart)

	utils.GetLogger().Info("Indexes built",
		zap.Int("parcels", len(e.parcels)),
		zap.Int("addresses", len(e.addresses)),
		zap.Duration("build_time", stats.IndexBuildTime),
	)

	matchStart := time.Now()
	for _, stage := range []struct {
		name string
		run  func(context.Context, writer.Sink, *Stats) error
	}{
		{"stage1_containment", e.runStage1},
		{"stage2_border_rescue", e.runStage2},
		{"stage3_fallback", e.runStage3},
	} {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("matching cancelled before %s: %w", stage.name, err)
		}
		if err := stage.run(ctx, sink, stats); err != nil {
			return nil, fmt.Errorf("%s: %w", stage.name, err)
		}
	}
	stats.MatchTime = time.Since(matchStart)

	for _, n := range stats.RowsByType {
		stats.TotalRows += n
	}

	utils.GetLogger().Info("Matching complete",
		zap.Int("rows", stats.TotalRows),
		zap.Int("pre_existing", stats.RowsByType[models.MatchTypePreExisting]),
		zap.Int("inside", stats.RowsByType[models.MatchTypeInside]),
		zap.Int("border_near", stats.RowsByType[models.MatchTypeBorderNear]),
		zap.Int("fallback_nearest", stats.RowsByType[models.MatchTypeFallbackNearest]),
		zap.Duration("match_time", stats.MatchTime),
	)

	return stats, nil
}

// runStage1 emits PreExisting and Inside rows, parallel over parcels.
func (e *Engine) runStage1(ctx context.Context, sink writer.Sink, stats *Stats) error {
	eps := e.opts.InsideEpsM

	buffers, err := e.forEachChunk(ctx, len(e.parcels), func(start, end int) ([]models.Match, error) {
		var out []models.Match
		var candidates []int

		for pi := start; pi < end; pi++ {
			p := &e.parcels[pi]

			for _, ai := range e.preexisting[pi] {
				out = append(out, models.NewMatch(e.addresses[ai].ID, p.ID, models.MatchTypePreExisting, 0))
				e.matched[pi].Store(true)
			}

			candidates = candidates[:0]
			e.addrTree.Search(p.Bounds, func(ai int) {
				candidates = append(candidates, ai)
			})
			// Range queries return traversal order; containment rows are
			// emitted in address index order.
			sort.Ints(candidates)

			for _, ai := range candidates {
				a := &e.addresses[ai]
				if containsInt(e.linkedByAddr[ai], pi) {
					// The pair already produced a PreExisting row.
					continue
				}
				if geometry.PointInSurface(a.Point, p.Geom, eps) {
					out = append(out, models.NewMatch(a.ID, p.ID, models.MatchTypeInside, 0))
					e.matched[pi].Store(true)
				}
			}
		}
		return out, nil
	})
	if err != nil {
		return err
	}

	return e.flush(ctx, sink, stats, buffers)
}

// runStage2 emits at most one BorderNear row per address, parallel over
// addresses.
func (e *Engine) runStage2(ctx context.Context, sink writer.Sink, stats *Stats) error {
	maxD2 := e.opts.AddressMaxDistanceM * e.opts.AddressMaxDistanceM
	eps2 := e.opts.InsideEpsM * e.opts.InsideEpsM

	buffers, err := e.forEachChunk(ctx, len(e.addresses), func(start, end int) ([]models.Match, error) {
		var out []models.Match

		for ai := start; ai < end; ai++ {
			a := &e.addresses[ai]
			bestD2 := math.Inf(1)
			bestPi := -1

			var walkErr error
			e.parcelTree.NearestWalk(a.Point[0], a.Point[1], maxD2, func(pi int, _ float64) float64 {
				q := &e.parcels[pi]
				d2 := geometry.DistToSurface2(a.Point, q.Geom)
				if d2 < 0 {
					walkErr = fmt.Errorf("address %s parcel %s: negative squared distance: %w",
						a.ID, q.ID, models.ErrInvariantViolated)
					return 0
				}
				if d2 <= eps2 || d2 > maxD2 {
					return bestD2
				}
				if containsInt(e.linkedByAddr[ai], pi) {
					return bestD2
				}
				if d2 < bestD2 || (d2 == bestD2 && q.ID < e.parcels[bestPi].ID) {
					bestD2, bestPi = d2, pi
				}
				return bestD2
			})
			if walkErr != nil {
				return nil, walkErr
			}

			if bestPi >= 0 {
				out = append(out, models.NewMatch(a.ID, e.parcels[bestPi].ID, models.MatchTypeBorderNear, math.Sqrt(bestD2)))
				e.matched[bestPi].Store(true)
			}
		}
		return out, nil
	})
	if err != nil {
		return err
	}

	return e.flush(ctx, sink, stats, buffers)
}

// runStage3 emits fallback rows for parcels untouched by the earlier stages,
// parallel over those parcels. Each worker drives an expanding window around
// the parcel box and keeps a reusable seen bitset.
func (e *Engine) runStage3(ctx context.Context, sink writer.Sink, stats *Stats) error {
	eps2 := e.opts.InsideEpsM * e.opts.InsideEpsM
	fallbackMax := e.opts.FallbackMaxDistanceM
	fallbackMax2 := fallbackMax * fallbackMax

	var unmatched []int
	for pi := range e.parcels {
		if !e.matched[pi].Load() {
			unmatched = append(unmatched, pi)
		}
	}

	buffers, err := e.forEachChunk(ctx, len(unmatched), func(start, end int) ([]models.Match, error) {
		var out []models.Match
		seen := newBitset(len(e.addresses))

		for _, pi := range unmatched[start:end] {
			p := &e.parcels[pi]
			bestD2 := math.Inf(1)
			bestAi := -1

			r := e.opts.InitialFallbackRadiusM
			if r <= 0 {
				r = 0.5 * p.Bounds.MaxSide()
				if r < config.DefaultMinFallbackRadiusM {
					r = config.DefaultMinFallbackRadiusM
				}
			}

			for {
				window := p.Bounds.ExpandedBy(r)
				e.addrTree.Search(window, func(ai int) {
					if !seen.set(ai) {
						return
					}
					a := &e.addresses[ai]
					// Strict comparison: a candidate whose box distance ties
					// the best exact distance may still win the id tie-break.
					if p.Bounds.PointDist2(a.Point[0], a.Point[1]) > bestD2 {
						return
					}
					d2 := geometry.DistToSurface2(a.Point, p.Geom)
					if d2 < bestD2 || (d2 == bestD2 && a.ID < e.addresses[bestAi].ID) {
						bestD2, bestAi = d2, ai
					}
				})

				// No unseen candidate outside the window can beat a best
				// within the radius.
				if bestD2 <= r*r {
					break
				}
				// The window already covers the hard cap and nothing under it
				// turned up: give up before the radius runs away.
				if r*r > fallbackMax2 && bestD2 > fallbackMax2 {
					break
				}
				r *= 2
			}
			seen.reset()

			if bestAi < 0 {
				continue
			}
			a := &e.addresses[bestAi]
			switch {
			case bestD2 <= eps2:
				// Containment missed by Stage 1 AABB quantization.
				out = append(out, models.NewMatch(a.ID, p.ID, models.MatchTypeInside, 0))
			case math.Sqrt(bestD2) <= fallbackMax:
				out = append(out, models.NewMatch(a.ID, p.ID, models.MatchTypeFallbackNearest, math.Sqrt(bestD2)))
			}
		}
		return out, nil
	})
	if err != nil {
		return err
	}

	return e.flush(ctx, sink, stats, buffers)
}

// flush streams worker buffers to the sink in worker order, which is entity
// index order because chunks are contiguous.
func (e *Engine) flush(ctx context.Context, sink writer.Sink, stats *Stats, buffers [][]models.Match) error {
	for _, buf := range buffers {
		if len(buf) == 0 {
			continue
		}
		for i := range buf {
			stats.RowsByType[buf[i].MatchType]++
		}
		if err := sink.WriteBatch(ctx, buf); err != nil {
			return fmt.Errorf("failed to write matches: %w", err)
		}
	}
	return nil
}

func containsInt(s []int, v int) bool {
	for _, x := range s {
		if x == v {
			return true
		}
	}
	return false
}
