// Package api provides an HTTP API server for ingesting fragments and
// operating the tiered cache coordinator.
package api

// Config is the API server configuration.
type Config struct {
	// ListenAddr is the address to listen on (e.g., ":8082")
	ListenAddr string
}
