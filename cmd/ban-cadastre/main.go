// Command ban-cadastre links national address registry points (BAN) to
// cadastral parcels and writes typed, scored match rows.
package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"ban-cadastre-engine/internal/utils"
)

// errPartialRun marks a strict-mode run where some departments failed.
var errPartialRun = errors.New("partial run")

func main() {
	rootCmd := &cobra.Command{
		Use:           "ban-cadastre",
		Short:         "BAN-Cadastre matching tool",
		Long:          `Links national address registry points to cadastral parcels for one or more departments.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.AddCommand(newLinkCmd())
	rootCmd.AddCommand(newPipelineCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		utils.Sync()
		if errors.Is(err, errPartialRun) {
			os.Exit(2)
		}
		os.Exit(1)
	}
	utils.Sync()
}
