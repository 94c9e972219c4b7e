// Package pipeline runs the creative stage graph for one job: planning fans
// out into enrichment stages, assemble joins them, and a critic loop decides
// whether the plan is good enough to render. Stage outputs checkpoint through
// the artifact store so interrupted jobs resume mid-graph.
package pipeline
