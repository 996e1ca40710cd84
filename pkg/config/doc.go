// Package config handles service configuration loading from YAML files,
// optional .env files and environment overrides for secrets.
package config
