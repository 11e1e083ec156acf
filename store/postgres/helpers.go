package postgres

import (
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/xraph/cuttrack/ledger"
)

// isNoRows returns true when err indicates no rows were found.
func isNoRows(err error) bool {
	return errors.Is(err, pgx.ErrNoRows)
}

// isDuplicateKey checks if a PostgreSQL error is a unique_violation (23505).
func isDuplicateKey(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}

func sheetsToText(s ledger.Sheets) []string {
	out := make([]string, len(s))
	for i, v := range s {
		out[i] = string(v)
	}
	return out
}

func sheetsFromText(v []string) ledger.Sheets {
	out := make(ledger.Sheets, len(v))
	for i, s := range v {
		out[i] = ledger.SheetStatus(s)
	}
	return out
}

func sheetsEqual(a, b ledger.Sheets) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a.At(i) != b.At(i) {
			return false
		}
	}
	return true
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}
