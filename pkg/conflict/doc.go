// Package conflict detects packages required at incompatible version
// ranges.
//
// Two inputs are supported. [Analyze] reads the output pip or npm printed
// when an install stopped on a resolution conflict. [Walker] builds the full
// requirement graph of an environment manifest from registry metadata, and
// [AnalyzeGraph] checks it: a package conflicts when the constraints on its
// incoming edges have no version in common.
//
// Reports are advisory. Each conflicting package gets suggestions of the
// form "widen constraint on X required by B" and "pin X to version V", where
// V is the candidate satisfying the most dependents.
package conflict
