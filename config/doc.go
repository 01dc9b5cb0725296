// Package config handles application and per-network configuration loading
// and validation.
//
// Application settings come from an optional config.yml; each rail network is
// configured by railNetworks/<ID>/config.json. Both are validated using
// struct tags.
package config
