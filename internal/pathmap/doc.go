// Package pathmap translates provider-reported logical paths into fast-tier,
// slow-tier, and host-visible paths.
//
// Mappings are matched by longest prefix on path component boundaries after
// Unicode normalization. Each mapping's slow prefix is classified once, when
// the Resolver is built, by reading the mount table: plain filesystems are
// used as-is, pooled union mounts (shfs, mergerfs) are rewritten to their
// array-direct view so backups never land on the fast pool, and pool-only
// shares backed by a ZFS pool keep the pooled path because the array-direct
// view does not contain them.
package pathmap
