package config

import _ "embed"

// Default is the embedded base configuration merged under conf.yaml.
//
//go:embed conf.default.yaml
var Default []byte
