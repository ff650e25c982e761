// Package config loads, normalizes, and validates the scribed TOML
// configuration. All recognized options are enumerated on the Config struct
// and checked at startup; components never read settings ad hoc.
package config
