package main

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"ban-cadastre-engine/internal/config"
	"ban-cadastre-engine/internal/services/database"
	"ban-cadastre-engine/internal/services/loader"
	"ban-cadastre-engine/internal/services/matcher"
	s3service "ban-cadastre-engine/internal/services/s3"
	"ban-cadastre-engine/internal/services/writer"
	"ban-cadastre-engine/internal/utils"
)

// matchFlags registers the tunables shared by link and pipeline on cmd,
// with env-driven defaults.
func matchFlags(cmd *cobra.Command, opts *config.Options) {
	cmd.Flags().Float64Var(&opts.AddressMaxDistanceM, "address-max-distance", opts.AddressMaxDistanceM, "Stage 2 upper bound in meters")
	cmd.Flags().Float64Var(&opts.FallbackMaxDistanceM, "fallback-max-distance", opts.FallbackMaxDistanceM, "Stage 3 upper bound in meters, hard reject above")
	cmd.Flags().Float64Var(&opts.InsideEpsM, "inside-eps", opts.InsideEpsM, "containment tolerance in meters")
	cmd.Flags().Float64Var(&opts.InitialFallbackRadiusM, "initial-fallback-radius", opts.InitialFallbackRadiusM, "Stage 3 seed radius in meters (0 = auto)")
	cmd.Flags().IntVar(&opts.NumWorkers, "workers", opts.NumWorkers, "worker count")
	cmd.Flags().IntVar(&opts.BatchSize, "batch-size", opts.BatchSize, "writer flush granularity in rows")
	cmd.Flags().StringVar(&opts.FilterCodeInsee, "filter-code-insee", opts.FilterCodeInsee, "restrict both inputs to one municipality")
	cmd.Flags().IntVar(&opts.LimitAddresses, "limit-addresses", opts.LimitAddresses, "truncate the address input (0 = no limit)")
	cmd.Flags().StringVar(&opts.DatabaseURL, "database-url", opts.DatabaseURL, "optional Postgres sink for match rows")
}

// newLoader wires the S3 fetcher only when one of the inputs needs it.
func newLoader(ctx context.Context, opts *config.Options, paths ...string) (*loader.Loader, error) {
	needS3 := false
	for _, p := range paths {
		if s3service.IsURI(p) {
			needS3 = true
			break
		}
	}
	if !needS3 {
		return loader.New(nil), nil
	}

	svc, err := s3service.NewService(ctx, opts.AWSRegion)
	if err != nil {
		return nil, err
	}
	return loader.New(svc), nil
}

// runDepartment executes one full load-match-write pass.
func runDepartment(ctx context.Context, opts *config.Options, dept, addressesPath, parcelsPath, outputPath string, matchRepo *database.MatchRepository) (*matcher.Stats, error) {
	runID := uuid.NewString()
	logger := utils.GetLogger().With(
		zap.String("run_id", runID),
		zap.String("departement", dept),
	)

	l, err := newLoader(ctx, opts, addressesPath, parcelsPath)
	if err != nil {
		return nil, err
	}

	parcels, err := l.LoadParcels(ctx, parcelsPath, opts)
	if err != nil {
		return nil, fmt.Errorf("loading parcels: %w", err)
	}
	addresses, err := l.LoadAddresses(ctx, addressesPath, opts)
	if err != nil {
		return nil, fmt.Errorf("loading addresses: %w", err)
	}

	sink, err := buildSink(outputPath, opts, matchRepo, runID, dept)
	if err != nil {
		return nil, err
	}

	if len(parcels) == 0 || len(addresses) == 0 {
		logger.Warn("Input is empty after filtering, writing empty output",
			zap.Int("parcels", len(parcels)),
			zap.Int("addresses", len(addresses)),
		)
		if err := sink.Close(ctx); err != nil {
			sink.Abort()
			return nil, err
		}
		return &matcher.Stats{Parcels: len(parcels), Addresses: len(addresses)}, nil
	}

	logger.Info("Starting matching run",
		zap.Int("parcels", len(parcels)),
		zap.Int("addresses", len(addresses)),
		zap.String("output", outputPath),
	)

	engine := matcher.NewEngine(addresses, parcels, opts)
	stats, err := engine.Run(ctx, sink)
	if err != nil {
		sink.Abort()
		return nil, err
	}
	if err := sink.Close(ctx); err != nil {
		sink.Abort()
		return nil, err
	}

	return stats, nil
}

// buildSink assembles the parquet sink plus the optional database sink.
func buildSink(outputPath string, opts *config.Options, matchRepo *database.MatchRepository, runID, dept string) (writer.Sink, error) {
	parquetSink, err := writer.NewParquetSink(outputPath, opts.BatchSize)
	if err != nil {
		return nil, err
	}
	if matchRepo == nil {
		return parquetSink, nil
	}
	return writer.Multi(parquetSink, database.NewMatchSink(matchRepo, runID, dept)), nil
}

// openMatchRepo connects the optional database sink.
func openMatchRepo(ctx context.Context, opts *config.Options) (*database.MatchRepository, func(), error) {
	if opts.DatabaseURL == "" {
		return nil, func() {}, nil
	}
	db, err := database.NewFromURL(opts.DatabaseURL)
	if err != nil {
		return nil, nil, err
	}
	repo := database.NewMatchRepository(db)
	if err := repo.EnsureSchema(ctx); err != nil {
		db.Close()
		return nil, nil, err
	}
	return repo, db.Close, nil
}
