// Package cli defines the server-side CLI flag configuration and parsing for
// the escalator binary: logging, config path, the separate metrics listener
// and switches for the scanner and notification providers.
package cli
