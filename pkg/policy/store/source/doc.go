// Package source provides policy definition sources for the store: YAML
// files or directories with fsnotify-based hot reload, and an in-memory
// source for tests.
package source
