package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"ban-cadastre-engine/internal/config"
	"ban-cadastre-engine/internal/utils"
)

// newLinkCmd matches a single prepared department (one-off / debugging).
func newLinkCmd() *cobra.Command {
	var addressesPath, parcelsPath, outputPath, dept string

	opts, _ := config.Load()

	cmd := &cobra.Command{
		Use:   "link",
		Short: "Match one prepared department",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := utils.InitLogger(opts.LogLevel); err != nil {
				return err
			}

			ctx := cmd.Context()
			matchRepo, closeRepo, err := openMatchRepo(ctx, opts)
			if err != nil {
				return err
			}
			defer closeRepo()

			stats, err := runDepartment(ctx, opts, dept, addressesPath, parcelsPath, outputPath, matchRepo)
			if err != nil {
				return fmt.Errorf("link failed: %w", err)
			}

			utils.Logger.Info("Link complete",
				zap.Int("rows", stats.TotalRows),
				zap.String("output", outputPath),
			)
			return nil
		},
	}

	cmd.Flags().StringVar(&addressesPath, "addresses", "", "prepared addresses parquet (id, code_insee, geom WKB, existing_link)")
	cmd.Flags().StringVar(&parcelsPath, "parcels", "", "prepared parcels parquet (id, code_insee, geom WKB)")
	cmd.Flags().StringVar(&outputPath, "output", "", "output matches parquet")
	cmd.Flags().StringVar(&dept, "departement", "", "department label for logs and the database sink")
	matchFlags(cmd, opts)

	_ = cmd.MarkFlagRequired("addresses")
	_ = cmd.MarkFlagRequired("parcels")
	_ = cmd.MarkFlagRequired("output")

	return cmd
}
