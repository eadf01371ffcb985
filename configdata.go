// Package ccoptimize provides embedded assets for the ccoptimize daemon.
//
// The root package exists solely to embed [config.default.toml] via
// [DefaultConfigTOML]. The daemon writes this file to the data directory
// on first run so users start from a fully documented config.
package ccoptimize

import _ "embed"

// DefaultConfigTOML holds the raw bytes of config.default.toml, embedded at
// build time. The daemon copies this file to the data directory on first run.
//
//go:embed config.default.toml
var DefaultConfigTOML []byte
