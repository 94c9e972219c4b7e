// Package daemon hosts the background processing service. It enforces
// single-instance execution with a lock file, owns the workflow manager
// lifecycle, and exposes the job administration operations the CLI uses.
package daemon
