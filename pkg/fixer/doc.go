// Package fixer maps analysis issues to corrective template mutations.
// Each issue kind has exactly one strategy; strategies are idempotent
// and record a replayable Fix for every mutation they apply. A separate
// failure-pattern table maps remote deployment failure reasons to
// targeted fixes, best effort, with an explicit no-match outcome.
package fixer
