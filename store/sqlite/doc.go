// Package sqlite implements store.Store on SQLite through the pure-Go
// modernc.org/sqlite driver. It suits single-node deployments that cannot
// run a database server.
//
// Each job aggregate is stored as a JSON document next to the columns
// used for ordering and filtering. Writes run inside BEGIN IMMEDIATE
// transactions, so concurrent writers queue on SQLite's write lock rather
// than failing at commit.
package sqlite
