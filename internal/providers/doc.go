// Package providers routes generation requests across interchangeable
// upstream compute providers.
//
// The router owns all shared health state: stage code asks for a completion
// and the router picks a provider that is configured, healthy, and inside the
// policy's quality/latency/cost budgets, falling back to the next candidate
// when a call fails. Circuit breaking removes persistently failing providers
// from selection for a bounded window; rate-limit responses open the circuit
// for the duration advertised by the provider, and unavailable models are
// pruned from the provider's supported list. A content-addressed response
// cache with a fixed TTL short-circuits repeated identical prompts.
package providers
