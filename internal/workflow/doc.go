// Package workflow drives the job queue: it claims queued jobs, runs the
// planning pipeline and the renderer for each one, keeps heartbeats fresh,
// reclaims jobs whose worker died, and translates failures into terminal
// queue statuses.
package workflow
