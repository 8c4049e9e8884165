package matcher

import (
	"context"

	"golang.org/x/sync/errgroup"

	"ban-cadastre-engine/internal/models"
)

// forEachChunk partitions [0, n) into contiguous chunks, one per worker, and
// runs fn over each concurrently. Worker buffers come back in chunk order, so
// concatenating them preserves entity index order. Workers share nothing but
// the engine's read-only state and the matched latches.
func (e *Engine) forEachChunk(ctx context.Context, n int, fn func(start, end int) ([]models.Match, error)) ([][]models.Match, error) {
	if n == 0 {
		return nil, nil
	}

	workers := e.opts.Workers()
	if workers > n {
		workers = n
	}
	chunk := (n + workers - 1) / workers

	buffers := make([][]models.Match, workers)
	g, ctx := errgroup.WithContext(ctx)
	for w := 0; w < workers; w++ {
		w := w
		start := w * chunk
		end := start + chunk
		if end > n {
			end = n
		}
		if start > end {
			start = end
		}
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			rows, err := fn(start, end)
			if err != nil {
				return err
			}
			buffers[w] = rows
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return buffers, nil
}

// bitset is per-worker Stage 3 scratch: one bit per address, allocated once
// and reused across parcels by undoing only the bits actually set.
type bitset struct {
	words   []uint64
	touched []int
}

func newBitset(n int) *bitset {
	return &bitset{words: make([]uint64, (n+63)/64)}
}

// set marks i and reports whether it was unset before.
func (b *bitset) set(i int) bool {
	w, mask := i>>6, uint64(1)<<(uint(i)&63)
	if b.words[w]&mask != 0 {
		return false
	}
	b.words[w] |= mask
	b.touched = append(b.touched, i)
	return true
}

// reset clears every bit set since the last reset.
func (b *bitset) reset() {
	for _, i := range b.touched {
		b.words[i>>6] &^= uint64(1) << (uint(i) & 63)
	}
	b.touched = b.touched[:0]
}
