// Package versioncmder
package versioncmder

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/papercomputeco/strata/pkg/utils"
)

type VersionCommander struct{}

func NewVersionCmd() *cobra.Command {
	cmder := &VersionCommander{}

	return &cobra.Command{
		Use:   "version",
		Short: "print build information",
		Long:  "print the version, commit and build time of this binary",
		RunE: func(_ *cobra.Command, _ []string) error {
			return cmder.run()
		},
	}
}

func (c *VersionCommander) run() error {
	fmt.Printf("strata %s (%s) built %s\n", utils.Version, utils.Sha, utils.Buildtime)
	return nil
}
