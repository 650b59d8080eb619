// Package configs embeds the configuration template shipped with the
// binary. `docquery init` writes it to the corpus root as a starting
// point; internal/config carries the same defaults in code, so the
// template is documentation rather than the source of truth.
package configs

import _ "embed"

// DefaultConfigTemplate is the annotated default configuration written
// by `docquery init`.
//
//go:embed default.yaml
var DefaultConfigTemplate string
