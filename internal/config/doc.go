// Package config loads, normalizes, and validates tiercache configuration data.
//
// It supplies repository defaults, expands user paths (including tilde
// shortcuts), reads TOML files strictly (unknown keys are rejected), parses
// human-readable sizes such as "50GB", and honours the PLEX_TOKEN environment
// fallback. Path mappings and the eviction policy are fixed structures that
// are fully validated here so the engine never sees malformed values.
//
// Always obtain settings through this package so downstream code receives
// sanitized paths and clear validation errors.
package config
