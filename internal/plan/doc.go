// Package plan defines the edit plan data model shared by the pipeline
// stages, the validator, and the rendering orchestrator.
//
// Stage outputs travel through the pipeline as a tagged union (StageOutput)
// decoded once at the provider boundary, so downstream stages always work
// with typed values instead of raw JSON maps. The validator is a pure
// function: given a finished plan and limits it reports blocking errors and
// advisory warnings without touching any external state.
package plan
