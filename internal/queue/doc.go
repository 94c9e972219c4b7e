// Package queue persists edit jobs in SQLite and exposes the lifecycle
// operations the workflow manager needs: submission, claiming the next queued
// job, progress updates, heartbeats, and terminal transitions.
//
// Jobs move queued -> processing -> completed/failed. Review marks jobs that
// need operator attention without discarding their artifacts; canceled marks
// cooperative user stops. Every write retries briefly on SQLITE_BUSY so
// concurrent CLI and daemon access stays safe.
package queue
