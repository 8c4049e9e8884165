package matcher_test

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"sort"
	"testing"

	"github.com/paulmach/orb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ban-cadastre-engine/internal/config"
	"ban-cadastre-engine/internal/geometry"
	"ban-cadastre-engine/internal/models"
	"ban-cadastre-engine/internal/services/matcher"
)

// memSink captures emitted rows in order.
type memSink struct {
	rows []models.Match
}

func (s *memSink) WriteBatch(_ context.Context, rows []models.Match) error {
	s.rows = append(s.rows, rows...)
	return nil
}

func (s *memSink) Close(context.Context) error { return nil }
func (s *memSink) Abort()                      {}

func testOpts() *config.Options {
	return &config.Options{
		AddressMaxDistanceM:  config.DefaultAddressMaxDistanceM,
		FallbackMaxDistanceM: config.DefaultFallbackMaxDistanceM,
		InsideEpsM:           config.DefaultInsideEpsM,
		NumWorkers:           4,
		BatchSize:            config.DefaultBatchSize,
	}
}

func squareAt(x, y, size float64) orb.MultiPolygon {
	return orb.MultiPolygon{
		orb.Polygon{
			orb.Ring{{x, y}, {x + size, y}, {x + size, y + size}, {x, y + size}, {x, y}},
		},
	}
}

func mockParcel(id, codeInsee string, geom orb.MultiPolygon) models.Parcel {
	return models.Parcel{
		ID:        id,
		CodeInsee: codeInsee,
		Geom:      geom,
		Bounds:    geometry.BoundsOf(geom),
	}
}

// mockAddress takes raw existing_link values and splits them the way the
// loader does.
func mockAddress(id, codeInsee string, x, y float64, links ...string) models.Address {
	var parsed []string
	for _, raw := range links {
		parsed = append(parsed, models.ParseExistingLink(raw)...)
	}
	return models.Address{
		ID:            id,
		CodeInsee:     codeInsee,
		Point:         orb.Point{x, y},
		ExistingLinks: parsed,
	}
}

func runMatch(t *testing.T, addresses []models.Address, parcels []models.Parcel) []models.Match {
	t.Helper()
	sink := &memSink{}
	engine := matcher.NewEngine(addresses, parcels, testOpts())
	_, err := engine.Run(context.Background(), sink)
	require.NoError(t, err)
	return sink.rows
}

func TestPreExistingWinsOverDistance(t *testing.T) {
	parcels := []models.Parcel{mockParcel("P1", "69001", squareAt(0, 0, 10))}
	addresses := []models.Address{mockAddress("A1", "69001", 1000, 1000, "P1")}

	rows := runMatch(t, addresses, parcels)

	require.Len(t, rows, 1)
	assert.Equal(t, models.Match{
		IDBan:      "A1",
		IDParcelle: "P1",
		MatchType:  models.MatchTypePreExisting,
		DistanceM:  0,
		Confidence: 100,
	}, rows[0])
}

func TestInsideBoundaryInclusive(t *testing.T) {
	parcels := []models.Parcel{mockParcel("P1", "69001", squareAt(0, 0, 10))}
	addresses := []models.Address{mockAddress("A2", "69001", 10, 5)}

	rows := runMatch(t, addresses, parcels)

	require.Len(t, rows, 1)
	assert.Equal(t, models.MatchTypeInside, rows[0].MatchType)
	assert.Equal(t, 0.0, rows[0].DistanceM)
	assert.Equal(t, int32(90), rows[0].Confidence)
}

func TestBorderNearConfidenceStep(t *testing.T) {
	parcels := []models.Parcel{mockParcel("P1", "69001", squareAt(0, 0, 10))}
	addresses := []models.Address{
		mockAddress("A3", "69001", 13, 5),
		mockAddress("A4", "69001", 20, 5),
	}

	rows := runMatch(t, addresses, parcels)

	require.Len(t, rows, 2)
	assert.Equal(t, models.Match{
		IDBan: "A3", IDParcelle: "P1", MatchType: models.MatchTypeBorderNear,
		DistanceM: 3, Confidence: 80,
	}, rows[0])
	assert.Equal(t, models.Match{
		IDBan: "A4", IDParcelle: "P1", MatchType: models.MatchTypeBorderNear,
		DistanceM: 10, Confidence: 70,
	}, rows[1])
}

func TestFallbackNearestTieBreaksOnAddressID(t *testing.T) {
	parcels := []models.Parcel{mockParcel("P2", "69001", squareAt(0, 0, 10))}
	// Both addresses sit exactly 100 m from the nearest edge.
	addresses := []models.Address{
		mockAddress("A6", "69001", 5, -100),
		mockAddress("A5", "69001", 110, 5),
	}

	rows := runMatch(t, addresses, parcels)

	require.Len(t, rows, 1)
	assert.Equal(t, models.Match{
		IDBan: "A5", IDParcelle: "P2", MatchType: models.MatchTypeFallbackNearest,
		DistanceM: 100, Confidence: 50,
	}, rows[0])
}

func TestHardRejectBeyondFallbackCap(t *testing.T) {
	parcels := []models.Parcel{mockParcel("P3", "69001", squareAt(0, 0, 10))}
	addresses := []models.Address{mockAddress("A7", "69001", 2000, 0)}

	rows := runMatch(t, addresses, parcels)
	assert.Empty(t, rows)
}

func TestConcaveParcelUsesContainmentNotCentroid(t *testing.T) {
	// L-shape whose centroid falls in the notch, outside the surface.
	lShape := orb.MultiPolygon{
		orb.Polygon{
			orb.Ring{{0, 0}, {10, 0}, {10, 2}, {2, 2}, {2, 10}, {0, 10}, {0, 0}},
		},
	}
	parcels := []models.Parcel{mockParcel("P4", "69001", lShape)}
	addresses := []models.Address{mockAddress("A8", "69001", 1, 1)}

	rows := runMatch(t, addresses, parcels)

	require.Len(t, rows, 1)
	assert.Equal(t, models.MatchTypeInside, rows[0].MatchType)
	assert.Equal(t, 0.0, rows[0].DistanceM)
	assert.Equal(t, int32(90), rows[0].Confidence)
}

func TestPreExistingRequiresSameCodeInsee(t *testing.T) {
	parcels := []models.Parcel{mockParcel("P1", "69002", squareAt(0, 0, 10))}
	// Cross-municipality ghost link: the containment match must win instead.
	addresses := []models.Address{mockAddress("A1", "69001", 5, 5, "P1")}

	rows := runMatch(t, addresses, parcels)

	require.Len(t, rows, 1)
	assert.Equal(t, models.MatchTypeInside, rows[0].MatchType)
}

func TestPreExistingIgnoresUnknownParcel(t *testing.T) {
	// The ghost link is dropped and the address is too far for any other
	// stage, so nothing comes out.
	parcels := []models.Parcel{mockParcel("P1", "69001", squareAt(0, 0, 10))}
	addresses := []models.Address{mockAddress("A1", "69001", 3000, 3000, "P9")}

	rows := runMatch(t, addresses, parcels)
	assert.Empty(t, rows)
}

func TestOneRowPerPair(t *testing.T) {
	// The address is inside the parcel it also links to: the PreExisting row
	// must be the only one for the pair.
	parcels := []models.Parcel{mockParcel("P1", "69001", squareAt(0, 0, 10))}
	addresses := []models.Address{mockAddress("A1", "69001", 5, 5, "P1;P1")}

	rows := runMatch(t, addresses, parcels)

	require.Len(t, rows, 1)
	assert.Equal(t, models.MatchTypePreExisting, rows[0].MatchType)
}

func TestSemicolonSeparatedLinks(t *testing.T) {
	parcels := []models.Parcel{
		mockParcel("P1", "69001", squareAt(0, 0, 10)),
		mockParcel("P2", "69001", squareAt(5000, 0, 10)),
	}
	addresses := []models.Address{mockAddress("A1", "69001", 20000, 20000, "P1; P2")}

	rows := runMatch(t, addresses, parcels)

	require.Len(t, rows, 2)
	assert.Equal(t, "P1", rows[0].IDParcelle)
	assert.Equal(t, "P2", rows[1].IDParcelle)
	for _, row := range rows {
		assert.Equal(t, models.MatchTypePreExisting, row.MatchType)
	}
}

// randomScenario builds a mixed data set: a band of parcels, addresses
// scattered close and far.
func randomScenario(seed int64, numParcels, numAddresses int) ([]models.Address, []models.Parcel) {
	rng := rand.New(rand.NewSource(seed))

	parcels := make([]models.Parcel, numParcels)
	for i := range parcels {
		x := rng.Float64() * 5000
		y := rng.Float64() * 200
		size := 5 + rng.Float64()*30
		parcels[i] = mockParcel(fmt.Sprintf("P%03d", i), "69001", squareAt(x, y, size))
	}

	addresses := make([]models.Address, numAddresses)
	for i := range addresses {
		x := rng.Float64() * 5000
		y := rng.Float64() * 3000
		addresses[i] = mockAddress(fmt.Sprintf("A%03d", i), "69001", x, y)
	}
	return addresses, parcels
}

func TestEmittedRowInvariants(t *testing.T) {
	addresses, parcels := randomScenario(42, 60, 300)
	rows := runMatch(t, addresses, parcels)
	require.NotEmpty(t, rows)

	parcelsWithFallback := make(map[string]bool)
	parcelsWithOther := make(map[string]bool)

	for _, row := range rows {
		switch row.MatchType {
		case models.MatchTypePreExisting:
			assert.Equal(t, 0.0, row.DistanceM)
			assert.Equal(t, int32(100), row.Confidence)
			parcelsWithOther[row.IDParcelle] = true
		case models.MatchTypeInside:
			assert.Equal(t, 0.0, row.DistanceM)
			assert.Equal(t, int32(90), row.Confidence)
			parcelsWithOther[row.IDParcelle] = true
		case models.MatchTypeBorderNear:
			assert.Greater(t, row.DistanceM, config.DefaultInsideEpsM)
			assert.LessOrEqual(t, row.DistanceM, config.DefaultAddressMaxDistanceM)
			if row.DistanceM < 5 {
				assert.Equal(t, int32(80), row.Confidence)
			} else {
				assert.Equal(t, int32(70), row.Confidence)
			}
			parcelsWithOther[row.IDParcelle] = true
		case models.MatchTypeFallbackNearest:
			assert.Greater(t, row.DistanceM, config.DefaultInsideEpsM)
			assert.LessOrEqual(t, row.DistanceM, config.DefaultFallbackMaxDistanceM)
			assert.Equal(t, int32(50), row.Confidence)
			parcelsWithFallback[row.IDParcelle] = true
		default:
			t.Fatalf("unexpected match type %q", row.MatchType)
		}
	}

	// Stage gating: fallback rows only for parcels untouched by earlier stages.
	for pid := range parcelsWithFallback {
		assert.False(t, parcelsWithOther[pid], "parcel %s has both fallback and stronger rows", pid)
	}
}

func TestDeterministicOutput(t *testing.T) {
	addresses, parcels := randomScenario(7, 80, 400)

	first := runMatch(t, addresses, parcels)

	opts := testOpts()
	opts.NumWorkers = 1
	sink := &memSink{}
	_, err := matcher.NewEngine(addresses, parcels, opts).Run(context.Background(), sink)
	require.NoError(t, err)

	// Same rows in the same order regardless of worker count.
	require.Equal(t, first, sink.rows)

	again := runMatch(t, addresses, parcels)
	require.Equal(t, first, again)
}

func TestFallbackMatchesBruteForce(t *testing.T) {
	// Parcels far from every address: all rows come from Stage 3.
	rng := rand.New(rand.NewSource(11))

	parcels := make([]models.Parcel, 25)
	for i := range parcels {
		parcels[i] = mockParcel(fmt.Sprintf("P%03d", i), "69001", squareAt(float64(i)*120, 0, 10))
	}
	addresses := make([]models.Address, 200)
	for i := range addresses {
		x := rng.Float64() * 3000
		y := 100 + rng.Float64()*1900
		addresses[i] = mockAddress(fmt.Sprintf("A%03d", i), "69001", x, y)
	}

	rows := runMatch(t, addresses, parcels)

	byParcel := make(map[string]models.Match)
	for _, row := range rows {
		require.Equal(t, models.MatchTypeFallbackNearest, row.MatchType)
		_, dup := byParcel[row.IDParcelle]
		require.False(t, dup, "parcel %s matched twice", row.IDParcelle)
		byParcel[row.IDParcelle] = row
	}

	for _, p := range parcels {
		bestD2 := math.Inf(1)
		bestID := ""
		for _, a := range addresses {
			d2 := geometry.DistToSurface2(a.Point, p.Geom)
			if d2 < bestD2 || (d2 == bestD2 && a.ID < bestID) {
				bestD2, bestID = d2, a.ID
			}
		}

		row, ok := byParcel[p.ID]
		if math.Sqrt(bestD2) > config.DefaultFallbackMaxDistanceM {
			assert.False(t, ok, "parcel %s beyond the cap still matched", p.ID)
			continue
		}
		require.True(t, ok, "parcel %s missing its fallback row", p.ID)
		assert.Equal(t, bestID, row.IDBan)
		assert.InDelta(t, math.Sqrt(bestD2), row.DistanceM, 1e-9)
	}
}

func TestStageOrderInOutput(t *testing.T) {
	addresses, parcels := randomScenario(3, 40, 200)
	rows := runMatch(t, addresses, parcels)

	stageOf := func(mt models.MatchType) int {
		switch mt {
		case models.MatchTypePreExisting, models.MatchTypeInside:
			return 1
		case models.MatchTypeBorderNear:
			return 2
		default:
			return 3
		}
	}

	stages := make([]int, len(rows))
	for i, row := range rows {
		stages[i] = stageOf(row.MatchType)
	}
	assert.True(t, sort.IntsAreSorted(stages), "stage-k rows must precede stage-k+1 rows")
}
