// Package main hosts the Reelsmith CLI entrypoint and command graph.
//
// The Cobra-based command tree covers job submission, queue inspection,
// resume and cancel operations, configuration scaffolding, and running the
// editing daemon in the foreground. It centralizes configuration resolution
// so subcommands can focus on user experience instead of wiring.
package main
