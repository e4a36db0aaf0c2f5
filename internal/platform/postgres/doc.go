// Package postgres provides PostgreSQL implementations of the store
// interfaces. All cross-worker coordination is expressed as conditional
// updates against the shared store; no implementation takes an
// in-process lock.
package postgres
