// Package loader reads the prepared address and parcel tables for one
// department into densely packed in-memory slices. Inputs are parquet files
// with contractual column names; geometry arrives as WKB in the working
// metric frame. Any malformed entity is fatal.
package loader

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/parquet-go/parquet-go"
	"go.uber.org/zap"

	"ban-cadastre-engine/internal/config"
	"ban-cadastre-engine/internal/geometry"
	"ban-cadastre-engine/internal/models"
	s3service "ban-cadastre-engine/internal/services/s3"
	"ban-cadastre-engine/internal/utils"
)

// Contractual columns of the two input tables.
var (
	addressColumns = []string{"id", "code_insee", "geom", "existing_link"}
	parcelColumns  = []string{"id", "code_insee", "geom"}
)

type addressRow struct {
	ID           string  `parquet:"id"`
	CodeInsee    string  `parquet:"code_insee"`
	Geom         []byte  `parquet:"geom"`
	ExistingLink *string `parquet:"existing_link,optional"`
}

type parcelRow struct {
	ID        string `parquet:"id"`
	CodeInsee string `parquet:"code_insee"`
	Geom      []byte `parquet:"geom"`
}

// Loader resolves input paths (local or s3://) and decodes the two tables.
type Loader struct {
	fetcher *s3service.Service
}

// New creates a loader. fetcher may be nil when inputs are local files.
func New(fetcher *s3service.Service) *Loader {
	return &Loader{fetcher: fetcher}
}

// LoadAddresses reads, validates and optionally filters the address table.
func (l *Loader) LoadAddresses(ctx context.Context, path string, opts *config.Options) ([]models.Address, error) {
	local, cleanup, err := l.resolve(ctx, path)
	if err != nil {
		return nil, err
	}
	defer cleanup()

	if err := requireColumns(local, addressColumns); err != nil {
		return nil, err
	}

	rows, err := parquet.ReadFile[addressRow](local)
	if err != nil {
		return nil, fmt.Errorf("failed to read address table %s: %w", path, err)
	}

	addresses := make([]models.Address, 0, len(rows))
	for i := range rows {
		row := &rows[i]
		if strings.TrimSpace(row.ID) == "" {
			return nil, fmt.Errorf("address row %d: %w", i, models.ErrEmptyID)
		}
		if opts.FilterCodeInsee != "" && row.CodeInsee != opts.FilterCodeInsee {
			continue
		}

		point, err := geometry.DecodePoint(row.Geom)
		if err != nil {
			return nil, fmt.Errorf("address %s: %w", row.ID, err)
		}
		if err := geometry.ValidatePoint(point); err != nil {
			return nil, fmt.Errorf("address %s: %w", row.ID, err)
		}

		var links []string
		if row.ExistingLink != nil {
			links = models.ParseExistingLink(*row.ExistingLink)
		}

		addresses = append(addresses, models.Address{
			ID:            row.ID,
			CodeInsee:     row.CodeInsee,
			Point:         point,
			ExistingLinks: links,
		})

		if opts.LimitAddresses > 0 && len(addresses) >= opts.LimitAddresses {
			utils.GetLogger().Warn("Address input truncated",
				zap.Int("limit", opts.LimitAddresses),
			)
			break
		}
	}

	utils.GetLogger().Info("Addresses loaded",
		zap.String("path", path),
		zap.Int("rows", len(rows)),
		zap.Int("kept", len(addresses)),
	)

	return addresses, nil
}

// LoadParcels reads, validates and optionally filters the parcel table.
func (l *Loader) LoadParcels(ctx context.Context, path string, opts *config.Options) ([]models.Parcel, error) {
	local, cleanup, err := l.resolve(ctx, path)
	if err != nil {
		return nil, err
	}
	defer cleanup()

	if err := requireColumns(local, parcelColumns); err != nil {
		return nil, err
	}

	rows, err := parquet.ReadFile[parcelRow](local)
	if err != nil {
		return nil, fmt.Errorf("failed to read parcel table %s: %w", path, err)
	}

	parcels := make([]models.Parcel, 0, len(rows))
	for i := range rows {
		row := &rows[i]
		if strings.TrimSpace(row.ID) == "" {
			return nil, fmt.Errorf("parcel row %d: %w", i, models.ErrEmptyID)
		}
		if opts.FilterCodeInsee != "" && row.CodeInsee != opts.FilterCodeInsee {
			continue
		}

		geom, err := geometry.DecodeSurface(row.Geom)
		if err != nil {
			return nil, fmt.Errorf("parcel %s: %w", row.ID, err)
		}
		if err := geometry.ValidateSurface(geom); err != nil {
			return nil, fmt.Errorf("parcel %s: %w", row.ID, err)
		}

		parcels = append(parcels, models.Parcel{
			ID:        row.ID,
			CodeInsee: row.CodeInsee,
			Geom:      geom,
			Bounds:    geometry.BoundsOf(geom),
		})
	}

	utils.GetLogger().Info("Parcels loaded",
		zap.String("path", path),
		zap.Int("rows", len(rows)),
		zap.Int("kept", len(parcels)),
	)

	return parcels, nil
}

// resolve fetches s3:// inputs to a temporary file; local paths pass through.
func (l *Loader) resolve(ctx context.Context, path string) (string, func(), error) {
	if !s3service.IsURI(path) {
		return path, func() {}, nil
	}
	if l.fetcher == nil {
		return "", nil, fmt.Errorf("s3 input %s requires a configured fetcher", path)
	}
	return l.fetcher.FetchToTemp(ctx, path)
}

// requireColumns checks the contractual columns against the file schema
// before any row decoding, so a missing column fails with a clear error.
func requireColumns(path string, columns []string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open input %s: %w", path, err)
	}
	defer f.Close()

	st, err := f.Stat()
	if err != nil {
		return fmt.Errorf("failed to stat input %s: %w", path, err)
	}

	pf, err := parquet.OpenFile(f, st.Size())
	if err != nil {
		return fmt.Errorf("failed to open parquet file %s: %w", path, err)
	}

	for _, col := range columns {
		if _, ok := pf.Schema().Lookup(col); !ok {
			return fmt.Errorf("%w: %s in %s", models.ErrMissingColumns, col, path)
		}
	}
	return nil
}
