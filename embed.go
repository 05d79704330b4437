// Package flowsave exposes assets compiled into the binary.
package flowsave

import _ "embed"

//go:embed templates/flowsave.env
var configTemplate string

// ConfigTemplate returns the commented default configuration written by
// "flowsave config init" and used as the reference by "config upgrade".
func ConfigTemplate() string {
	return configTemplate
}
