// Package cachestate persists cache records in SQLite.
//
// A record exists for every item whose fast copy and slow backup were created
// by a successful cache-in. The store is written only from the coordinating
// goroutine of a run; executor workers never touch it. A corrupt or
// schema-mismatched database is moved aside and rebuilt empty so the auditor
// can rediscover cached pairs from disk.
package cachestate
