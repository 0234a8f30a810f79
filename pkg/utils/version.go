// Package utils holds small one-off helpers shared across packages.
package utils

// Set at build time through -ldflags.
var (
	Version   = "dev"
	Sha       = "unknown"
	Buildtime = "unknown"
)
