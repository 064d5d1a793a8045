// Package config loads, validates, and normalizes tributary configuration.
//
// Configuration lives in a TOML file (default ~/.config/tributary/config.toml)
// with one section per collaborator system plus paths, workflow, and logging
// settings. Load applies defaults, expands ~ in path fields, and validates
// the result before returning it.
package config
