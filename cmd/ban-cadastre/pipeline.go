package main

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"ban-cadastre-engine/internal/config"
	"ban-cadastre-engine/internal/utils"
)

// newPipelineCmd runs the matching step for a list of departments against a
// staging directory of prepared inputs.
func newPipelineCmd() *cobra.Command {
	var departments, departmentsFile, stagingDir, resultsDir string
	var strict bool

	opts, _ := config.Load()

	cmd := &cobra.Command{
		Use:   "pipeline",
		Short: "Match every department of a manifest",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := utils.InitLogger(opts.LogLevel); err != nil {
				return err
			}

			depts, err := resolveDepartments(departments, departmentsFile)
			if err != nil {
				return err
			}
			if len(depts) == 0 {
				return fmt.Errorf("no departments to process")
			}

			if err := os.MkdirAll(resultsDir, 0o755); err != nil {
				return fmt.Errorf("failed to create results dir: %w", err)
			}

			ctx := cmd.Context()
			matchRepo, closeRepo, err := openMatchRepo(ctx, opts)
			if err != nil {
				return err
			}
			defer closeRepo()

			var failed []string
			for _, dept := range depts {
				addressesPath := filepath.Join(stagingDir, fmt.Sprintf("adresses_%s.parquet", dept))
				parcelsPath := filepath.Join(stagingDir, fmt.Sprintf("parcelles_%s.parquet", dept))
				outputPath := filepath.Join(resultsDir, fmt.Sprintf("matches_%s.parquet", dept))

				stats, err := runDepartment(ctx, opts, dept, addressesPath, parcelsPath, outputPath, matchRepo)
				if err != nil {
					utils.Logger.Error("Department failed",
						zap.String("departement", dept),
						zap.Error(err),
					)
					failed = append(failed, dept)
					continue
				}
				utils.Logger.Info("Department complete",
					zap.String("departement", dept),
					zap.Int("rows", stats.TotalRows),
				)
			}

			if len(failed) > 0 {
				if strict {
					return fmt.Errorf("%w: %d/%d departments failed (%s)",
						errPartialRun, len(failed), len(depts), strings.Join(failed, ", "))
				}
				utils.Logger.Warn("Pipeline finished with failures",
					zap.Strings("failed", failed),
				)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&departments, "departments", "", "comma-separated department codes (overrides the manifest)")
	cmd.Flags().StringVar(&departmentsFile, "departments-file", "", "manifest CSV, first column holds department codes (header allowed)")
	cmd.Flags().StringVar(&stagingDir, "staging-dir", "", "directory of prepared adresses_XX/parcelles_XX parquet files")
	cmd.Flags().StringVar(&resultsDir, "results-dir", "", "directory receiving matches_XX parquet files")
	cmd.Flags().BoolVar(&strict, "strict", false, "exit with code 2 when any department fails")
	matchFlags(cmd, opts)

	_ = cmd.MarkFlagRequired("staging-dir")
	_ = cmd.MarkFlagRequired("results-dir")

	return cmd
}

// resolveDepartments takes the explicit list when given, otherwise the first
// column of the manifest file.
func resolveDepartments(departments, departmentsFile string) ([]string, error) {
	if departments != "" {
		var out []string
		for _, d := range strings.Split(departments, ",") {
			if d = strings.TrimSpace(d); d != "" {
				out = append(out, d)
			}
		}
		return out, nil
	}
	if departmentsFile == "" {
		return nil, fmt.Errorf("either --departments or --departments-file is required")
	}

	f, err := os.Open(departmentsFile)
	if err != nil {
		return nil, fmt.Errorf("failed to open departments manifest: %w", err)
	}
	defer f.Close()

	reader := csv.NewReader(f)
	reader.FieldsPerRecord = -1
	records, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("failed to parse departments manifest: %w", err)
	}

	var out []string
	for _, record := range records {
		if len(record) == 0 {
			continue
		}
		code := strings.TrimSpace(record[0])
		if code == "" || isHeaderCell(code) {
			continue
		}
		out = append(out, code)
	}
	return out, nil
}

func isHeaderCell(s string) bool {
	switch strings.ToLower(s) {
	case "departement", "department", "dept", "code", "code_departement":
		return true
	}
	return false
}
