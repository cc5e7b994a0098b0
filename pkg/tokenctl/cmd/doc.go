// Package cmd implements the cobra command tree for the tokenctl CLI:
// token acquisition, identity inspection, profile configuration, version
// and shell completion.
package cmd
