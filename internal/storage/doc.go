// Package storage is the keyed byte store behind subscriber lists.
//
// Drivers:
//   - "memory": process-local map (tests, ephemeral runs)
//   - "file": dependency-free snapshot + append-only journal
//   - "sqlite": single-file database (modernc.org/sqlite, no cgo)
//   - "redis": shared store for multiple bot instances
//   - "postgres": shared relational store (pgx pool)
//
// Keys are opaque strings; callers use "<client>:<room>" and purge a whole
// client with DeletePrefix("<client>:").
package storage
