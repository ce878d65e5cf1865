// Package config handles loading the mailcompose configuration from YAML,
// applying defaults, resolving secrets from the OS keyring and validating the
// mail section before a transport is built from it.
package config
