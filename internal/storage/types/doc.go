// Package types defines the core data types shared across the storage
// engine.
//
// Key types:
//   - Point: a single measurement on a series
//   - Direction: time ordering of a query result stream
//
// Series keys are canonical strings of the form
// "metric tag=value [tag=value ...]" with tags sorted by name, so two
// spellings of the same tag set name the same series.
package types
