// Package config defines the service configuration model and its loading
// sequence: YAML file, then defaults, then ARBITER_* environment variable
// overrides, then validation.
package config
