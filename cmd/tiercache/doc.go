// Command tiercache runs cache cycles, audits and status reports for a
// two-tier media library.
//
// Typical use is a scheduled `tiercache run`; `tiercache audit --fix` repairs
// divergence between the state store and the tiers.
package main
