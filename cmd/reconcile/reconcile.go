// Package reconcile implements the registry reconciliation subcommand.
package reconcile

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/polarbio/occurharvest/internal/conf"
	"github.com/polarbio/occurharvest/internal/datastore"
	"github.com/polarbio/occurharvest/internal/reconcile"
	"github.com/polarbio/occurharvest/internal/registry"
)

// Command creates the reconcile command.
func Command(settings *conf.Settings) *cobra.Command {
	return &cobra.Command{
		Use:   "reconcile",
		Short: "Mark upstream deletions and download new or updated archives",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runReconcile(cmd, settings)
		},
	}
}

func runReconcile(cmd *cobra.Command, settings *conf.Settings) error {
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

	stats, err := reconcile.New(settings, client, store).Run(cmd.Context())
	if err != nil {
		return err
	}
	fmt.Printf("reconcile: %d checked, %d downloaded, %d deleted upstream, %d up to date, %d transient failures\n",
		stats.Checked, stats.Downloaded, stats.DeletedUpstream, stats.UpToDate, stats.TransientFailures)
	return nil
}
