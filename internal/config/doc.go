// Package config loads the canvasd YAML configuration and fills in defaults for
// every section the operator leaves out.
package config
