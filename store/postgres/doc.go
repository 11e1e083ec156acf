// Package postgres implements the store using pgx/v5 with raw SQL.
// Features: SELECT ... FOR UPDATE read-modify-write per job, cascading
// deletes, sheet ledgers as TEXT[] columns, embedded SQL migrations.
package postgres
