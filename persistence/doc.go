// Package persistence provides a managed-persistence façade over a
// relational mapping engine.
//
// # Overview
//
// The package centers on Manager, the single entry point callers talk to.
// It composes over an injected Engine capability (the bun-backed production
// implementation lives in internal/bunengine), delegates every operation to
// it, and pipes any failure through one error taxonomy before it reaches the
// caller:
//
//   - *Error: everything the engine can fail with, classified by Kind and
//     always carrying the original cause
//   - *InvalidArgumentError: caller mistakes caught before any delegation
//
// No engine-native error type crosses the manager's surface.
//
// # Unit of Work
//
// Persist, Remove and Merge stage changes; they become durable only on
// FlushAll or FlushScoped. Refresh is immediate. Transactional brackets a
// unit of work in one transaction with rollback-before-rethrow on any
// failure, and joins an already open transaction rather than nesting.
//
// # Cache Provisioning
//
// Config.SetCache installs a shared backend as both the metadata cache and
// the query cache, namespaced deterministically so deployments sharing a
// backend never collide. Absence of a backend is a supported, degraded
// configuration that logs a single warning.
//
// # Schema Synchronization
//
// Synchronizer.BuildCache compares declared metadata against live storage
// and applies the resulting DDL, additively or destructively. It is meant
// for development and deployment time, never the request path.
//
// # Concurrency
//
// A Manager must not be shared for concurrent mutating operations; the
// underlying unit of work is not thread safe. Reads may interleave when no
// writes are pending, but the manager guarantees nothing beyond what the
// engine provides.
package persistence
