// Package importer implements the archive import subcommand.
package importer

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/polarbio/occurharvest/internal/conf"
	"github.com/polarbio/occurharvest/internal/importer"
)

// Command creates the import command.
func Command(settings *conf.Settings) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "import",
		Short: "Import all downloaded archives into the store",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runImport(cmd, settings)
		},
	}

	cmd.Flags().IntVar(&settings.Import.Workers, "workers", settings.Import.Workers,
		"Number of archives imported in parallel")
	cmd.Flags().StringVar(&settings.Import.RegionFile, "region", settings.Import.RegionFile,
		"GeoJSON file with the region of interest polygon")
	return cmd
}

func runImport(cmd *cobra.Command, settings *conf.Settings) error {
	stats, err := importer.NewCoordinator(settings).Run(cmd.Context())
	if err != nil {
		return err
	}
	fmt.Printf("import: %d imported, %d wrong core type, %d not in scope, %d invalid, %d failed\n",
		stats.Imported, stats.SkippedWrongCoreType, stats.SkippedNotInScope,
		stats.SkippedInvalidArchive, stats.Failed)
	if stats.Failed > 0 {
		return fmt.Errorf("%d downloads failed to import", stats.Failed)
	}
	return nil
}
