// Package config loads, normalizes, and validates dubline configuration data.
//
// It supplies repository defaults, expands user paths (including tilde
// shortcuts), reads TOML files, and honours environment fallbacks such as
// OPENAI_API_KEY and HF_TOKEN. The Config type centralizes every knob the
// daemon and CLI need: work directories, pipeline tuning, engine selection,
// remote storage, progress relays, and notification settings.
//
// Always obtain settings through this package so downstream code receives
// sanitized paths, canonical log formats, and clear validation errors.
package config
