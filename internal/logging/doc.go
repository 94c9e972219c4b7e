// Package logging provides the structured logging surface used across the
// daemon and CLI: slog construction from config, standardized field keys,
// context-derived attributes (job, stage, attempt, correlation ID), and a
// nop logger for tests.
package logging
