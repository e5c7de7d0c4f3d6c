// Package config defines the runtime configuration of the voicerelay server:
// defaults, YAML loading with environment expansion, and validation.
package config
