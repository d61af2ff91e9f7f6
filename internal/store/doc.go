// Package store provides the SQLite-backed run ledger.
//
// Every verification appshot performs can be recorded as a row in the runs
// table: what was launched, where the capture went, how it ended and how
// long it took. The ledger is optional and only opened when a database path
// is configured.
//
// # Ordering
//
// Rows carry a seq INTEGER assigned on insert. Listings order by seq, never
// by timestamps, so the history reads in recording order even when clocks
// disagree.
//
// # Opening
//
// Open is for recorders: it creates the file and schema when missing and
// runs in WAL mode with synchronous=NORMAL. OpenExisting is for readers: it
// opens read-only and refuses to create anything, so a mistyped path is an
// error rather than an empty ledger. Both wait up to 5 seconds for locks.
//
// Step events are stored as canonical JSON (RFC 8785) so identical runs
// produce identical rows.
package store
