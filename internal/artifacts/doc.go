// Package artifacts persists per-(job, stage) pipeline outputs and the
// aggregate plan record that powers resume.
//
// Each write is a single atomic SQLite upsert, so readers never observe a
// partial artifact. Resume uses strict-prefix semantics: LastValidStage walks
// the fixed stage order and stops at the first gap, because a hole partway
// through invalidates everything produced after it.
package artifacts
