// Package mocks provides in-memory implementations of the store
// interfaces for testing services without a database. The fakes share
// one state so cross-table behavior (completion moves, orphan sweeps)
// can be exercised end to end. Transactions are serialized and roll the
// state back on failure, so multi-statement units commit atomically as
// they would against the real store.
package mocks
