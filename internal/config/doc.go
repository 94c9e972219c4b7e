// Package config loads, normalizes, and validates the TOML configuration that
// drives the daemon, the pipeline engine, provider routing, and rendering.
//
// Configuration resolution order: explicit --config path, then
// ~/.config/reelsmith/config.toml, then ./reelsmith.toml. Missing files fall
// back to defaults so read-only commands keep working. Provider API keys may
// be supplied through the environment (<NAME>_API_KEY), optionally seeded
// from a .env file at startup.
package config
