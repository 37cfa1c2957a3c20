// Package faults classifies raised errors into structured, severity-tagged,
// recovery-annotated reports.
//
// Classification is keyword-based over ordered groups; the first group that
// matches wins and unmatched text falls to unknown. Severity and category
// follow a fixed rule table so the same fault always produces the same
// report shape. A bounded in-memory history backs frequency counting,
// aggregate stats, and hourly trend buckets.
package faults
