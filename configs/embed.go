// Package configs provides embedded configuration templates for vecdb.
//
// The template is embedded at build time with go:embed so it ships in
// every distribution. `vecdb config init` writes it to vecdb.yaml in the
// working directory, or to a given path, as a starting point.
package configs

import _ "embed"

// ConfigTemplate is the annotated example configuration written by
// `vecdb config init`.
//
//go:embed config.example.yaml
var ConfigTemplate string
