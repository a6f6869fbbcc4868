// Package harvest implements the dataset discovery subcommand.
package harvest

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/polarbio/occurharvest/internal/conf"
	"github.com/polarbio/occurharvest/internal/datastore"
	"github.com/polarbio/occurharvest/internal/harvester"
	"github.com/polarbio/occurharvest/internal/registry"
)

// Command creates the harvest command.
func Command(settings *conf.Settings) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "harvest",
		Short: "Discover datasets on the registry and record them in the catalog",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runHarvest(cmd, settings)
		},
	}

	cmd.Flags().StringVar(&settings.Harvest.InstallationKey, "installation", settings.Harvest.InstallationKey,
		"Also harvest every dataset hosted by this installation key")
	return cmd
}

func runHarvest(cmd *cobra.Command, settings *conf.Settings) error {
	store := datastore.New(settings)
	if store == nil {
		return fmt.Errorf("no database backend enabled")
	}
	if err := store.Open(); err != nil {
		return err
	}
	defer store.Close()

	client := registry.NewClient(settings)
	defer client.Close()

	stats, err := harvester.New(settings, client, store).Run(cmd.Context())
	if err != nil {
		return err
	}
	fmt.Printf("harvest: %d seen, %d stored, %d filtered, %d denied\n",
		stats.Seen, stats.Stored, stats.Filtered, stats.Denied)
	return nil
}
