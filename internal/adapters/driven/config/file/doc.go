// Package file provides the TOML configuration store.
//
// Settings are kept in memory as flat dot keys (pipeline.parallelism) and
// written back as nested tables, so the file stays readable:
//
//	[pipeline]
//	parallelism = 3
//
// The default location is ~/.carbon/config.toml.
package file
