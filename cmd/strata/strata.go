// Package stratacmder
package stratacmder

import (
	servecmder "github.com/papercomputeco/strata/cmd/strata/serve"
	versioncmder "github.com/papercomputeco/strata/cmd/version"
	"github.com/spf13/cobra"
)

const strataLongDesc string = `Strata is a tiered memory cache coordinator.

Fragments land on a tier by priority and migrate between tiers as
access patterns change:
  strata serve         Run the coordinator and its API server`

const strataShortDesc string = "Strata - Tiered Memory Cache"

func NewStrataCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "strata",
		Short: strataShortDesc,
		Long:  strataLongDesc,
	}

	// Global flags
	cmd.PersistentFlags().BoolP("debug", "d", false, "Enable debug logging")

	// Add subcommands
	cmd.AddCommand(servecmder.NewServeCmd())
	cmd.AddCommand(versioncmder.NewVersionCmd())

	return cmd
}
