// Package action holds the domain model for recurring timed actions:
// schedule definitions, computed occurrence windows, persisted instances,
// and the derived completion status.
//
// Everything in this package is pure: window arithmetic and status
// evaluation take an explicit reference instant and never touch a clock
// or a store.
package action
