// Package cmd assembles the command line interface.
package cmd

import (
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/polarbio/occurharvest/cmd/harvest"
	"github.com/polarbio/occurharvest/cmd/hexbin"
	"github.com/polarbio/occurharvest/cmd/importer"
	"github.com/polarbio/occurharvest/cmd/reconcile"
	"github.com/polarbio/occurharvest/internal/conf"
)

// RootCommand builds the root command with all subcommands attached.
func RootCommand(settings *conf.Settings) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "occurharvest",
		Short: "Harvest, reconcile and import biodiversity occurrence datasets",
		Long: `occurharvest keeps a local occurrence store in sync with a public
dataset registry: it discovers candidate datasets, downloads new and updated
archives, imports their records through deduplication and geographic
filtering, and bins stored occurrences into hexagonal map grids.`,
	}

	rootCmd.PersistentFlags().BoolVarP(&settings.Debug, "debug", "d", settings.Debug, "Enable debug output")
	if err := viper.BindPFlags(rootCmd.PersistentFlags()); err != nil {
		cobra.CheckErr(err)
	}

	rootCmd.AddCommand(
		harvest.Command(settings),
		reconcile.Command(settings),
		importer.Command(settings),
		hexbin.Command(settings),
	)
	return rootCmd
}
