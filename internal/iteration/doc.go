// Package iteration implements the bounded planner/critic convergence loop:
// Planning -> Critiquing -> {Converged | Revising}. The controller owns only
// its own counters and score history; callers translate its decision into a
// re-planning signal for the pipeline engine.
package iteration
