// Package config loads server configuration from a JSON file with
// ROSTER_* environment variable overlays. Defaults are chosen so that
// a bare binary runs with no configuration at all.
package config
