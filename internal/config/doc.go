// Package config loads the watcher's YAML configuration.
//
// Files may reference environment variables as ${VAR}; they are expanded
// before parsing. LoadAndValidate is the usual entry point:
//
//	cfg, err := config.LoadAndValidate("config.yaml")
//
// Zero values are replaced by the Default* constants before validation.
package config
