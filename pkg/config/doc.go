// Package config loads swell client settings from YAML.
//
// Values may reference environment variables as ${VAR}; they are expanded
// before parsing. The endpoint URL is either given verbatim or assembled from
// env, host and path: ws:// outside production, wss:// in production.
package config
