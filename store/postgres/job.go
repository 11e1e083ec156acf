package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/xraph/cuttrack"
	"github.com/xraph/cuttrack/id"
	"github.com/xraph/cuttrack/job"
	"github.com/xraph/cuttrack/ledger"
)

// querier is satisfied by both the pool and a transaction.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

const jobColumns = `
	id, name, status, total_duration_ns, timer_started_at, pause_reason,
	last_activity_at, completed_at, version, created_at, updated_at`

// CreateJob persists a new job together with its cutlists, materials and
// any recut entries in one transaction.
func (s *Store) CreateJob(ctx context.Context, j *job.Job) error {
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `
			INSERT INTO cuttrack_jobs (`+jobColumns+`)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
			j.ID.String(), j.Name, string(j.Status),
			j.Timer.Total.Nanoseconds(), j.Timer.StartedAt, string(j.PauseReason),
			j.LastActivityAt, j.CompletedAt, j.Version, j.CreatedAt, j.UpdatedAt,
		)
		if err != nil {
			return err
		}

		batch := &pgx.Batch{}
		for _, cl := range j.Cutlists {
			batch.Queue(`
				INSERT INTO cuttrack_cutlists (id, job_id, name, position)
				VALUES ($1, $2, $3, $4)`,
				cl.ID.String(), j.ID.String(), cl.Name, cl.Position,
			)
			for pos, m := range cl.Materials {
				batch.Queue(`
					INSERT INTO cuttrack_materials (
						id, job_id, cutlist_id, name, position, total_sheets, sheet_statuses
					) VALUES ($1, $2, $3, $4, $5, $6, $7)`,
					m.ID.String(), j.ID.String(), cl.ID.String(), m.Name, pos,
					m.TotalSheets, sheetsToText(m.Sheets),
				)
				if m.Recut != nil {
					queueRecutUpsert(batch, j.ID, m.Recut)
				}
			}
		}
		return tx.SendBatch(ctx, batch).Close()
	})
	if err != nil {
		if isDuplicateKey(err) {
			return cuttrack.ErrJobAlreadyExists
		}
		return fmt.Errorf("cuttrack/postgres: create job: %w", err)
	}
	return nil
}

// GetJob retrieves a job aggregate by ID.
func (s *Store) GetJob(ctx context.Context, jobID id.JobID) (*job.Job, error) {
	j, err := s.loadJob(ctx, s.pool, jobID, false)
	if err != nil {
		if errors.Is(err, cuttrack.ErrJobNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("cuttrack/postgres: get job: %w", err)
	}
	return j, nil
}

// MutateJob locks the job row with SELECT ... FOR UPDATE, applies fn to
// the loaded aggregate and writes the result back before committing.
// Concurrent writers to the same job queue on the row lock.
func (s *Store) MutateJob(ctx context.Context, jobID id.JobID, fn job.MutateFunc) (*job.Job, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("cuttrack/postgres: begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }() //nolint:errcheck // no-op after commit

	j, err := s.loadJob(ctx, tx, jobID, true)
	if err != nil {
		if errors.Is(err, cuttrack.ErrJobNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("cuttrack/postgres: load job: %w", err)
	}
	before := j.Clone()

	if err := fn(j); err != nil {
		if errors.Is(err, job.ErrNoChange) {
			return before, nil
		}
		return nil, err
	}
	j.Version = before.Version + 1

	if err := writeJob(ctx, tx, before, j); err != nil {
		return nil, fmt.Errorf("cuttrack/postgres: write job: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("cuttrack/postgres: commit: %w", err)
	}
	return j, nil
}

// DeleteJob removes a job. Cutlists, materials and recuts go with it
// through ON DELETE CASCADE.
func (s *Store) DeleteJob(ctx context.Context, jobID id.JobID) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM cuttrack_jobs WHERE id = $1`, jobID.String())
	if err != nil {
		return fmt.Errorf("cuttrack/postgres: delete job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return cuttrack.ErrJobNotFound
	}
	return nil
}

// ListJobs returns jobs ordered by creation time, with their ledgers.
func (s *Store) ListJobs(ctx context.Context, opts job.ListOpts) ([]*job.Job, error) {
	query := `SELECT ` + jobColumns + ` FROM cuttrack_jobs WHERE 1=1`
	args := []any{}
	argIdx := 1

	if opts.Status != "" {
		query += fmt.Sprintf(" AND status = $%d", argIdx)
		args = append(args, string(opts.Status))
		argIdx++
	}

	query += " ORDER BY created_at ASC, id ASC"

	if opts.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIdx)
		args = append(args, opts.Limit)
		argIdx++
	}
	if opts.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argIdx)
		args = append(args, opts.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("cuttrack/postgres: list jobs: %w", err)
	}
	jobs, err := collectJobs(rows)
	if err != nil {
		return nil, err
	}
	if len(jobs) == 0 {
		return jobs, nil
	}

	if err := loadLedgers(ctx, s.pool, jobs); err != nil {
		return nil, fmt.Errorf("cuttrack/postgres: list jobs: %w", err)
	}
	return jobs, nil
}

// LookupMaterial returns the ID of the job owning a material.
func (s *Store) LookupMaterial(ctx context.Context, materialID id.MaterialID) (id.JobID, error) {
	return s.lookupOwner(ctx,
		`SELECT job_id FROM cuttrack_materials WHERE id = $1`,
		materialID, cuttrack.ErrMaterialNotFound)
}

// LookupRecut returns the ID of the job owning a recut entry.
func (s *Store) LookupRecut(ctx context.Context, recutID id.RecutID) (id.JobID, error) {
	return s.lookupOwner(ctx,
		`SELECT job_id FROM cuttrack_recuts WHERE id = $1`,
		recutID, cuttrack.ErrRecutNotFound)
}

func (s *Store) lookupOwner(ctx context.Context, query string, target id.ID, notFound error) (id.JobID, error) {
	var jobStr string
	if err := s.pool.QueryRow(ctx, query, target.String()).Scan(&jobStr); err != nil {
		if isNoRows(err) {
			return id.Nil, notFound
		}
		return id.Nil, fmt.Errorf("cuttrack/postgres: lookup owner of %s: %w", target, err)
	}
	jobID, err := id.ParseJobID(jobStr)
	if err != nil {
		return id.Nil, fmt.Errorf("cuttrack/postgres: parse job id %q: %w", jobStr, err)
	}
	return jobID, nil
}

// ──────────────────────────────────────────────────
// Aggregate load / write
// ──────────────────────────────────────────────────

func (s *Store) loadJob(ctx context.Context, q querier, jobID id.JobID, forUpdate bool) (*job.Job, error) {
	query := `SELECT ` + jobColumns + ` FROM cuttrack_jobs WHERE id = $1`
	if forUpdate {
		query += ` FOR UPDATE`
	}

	j, err := scanJob(q.QueryRow(ctx, query, jobID.String()))
	if err != nil {
		if isNoRows(err) {
			return nil, cuttrack.ErrJobNotFound
		}
		return nil, err
	}
	if err := loadLedgers(ctx, q, []*job.Job{j}); err != nil {
		return nil, err
	}
	return j, nil
}

// loadLedgers fills in cutlists, materials and recuts for jobs using one
// query per table.
func loadLedgers(ctx context.Context, q querier, jobs []*job.Job) error {
	byID := make(map[string]*job.Job, len(jobs))
	ids := make([]string, len(jobs))
	for i, j := range jobs {
		ids[i] = j.ID.String()
		byID[ids[i]] = j
	}

	// Cutlists.
	rows, err := q.Query(ctx, `
		SELECT id, job_id, name, position
		FROM cuttrack_cutlists
		WHERE job_id = ANY($1)
		ORDER BY job_id, position`, ids)
	if err != nil {
		return fmt.Errorf("load cutlists: %w", err)
	}
	cutlists := make(map[string]*ledger.Cutlist)
	for rows.Next() {
		var (
			cl            ledger.Cutlist
			clStr, jobStr string
		)
		if err := rows.Scan(&clStr, &jobStr, &cl.Name, &cl.Position); err != nil {
			rows.Close()
			return fmt.Errorf("scan cutlist: %w", err)
		}
		if cl.ID, err = id.ParseCutlistID(clStr); err != nil {
			rows.Close()
			return err
		}
		j := byID[jobStr]
		cl.JobID = j.ID
		cutlists[clStr] = &cl
		j.Cutlists = append(j.Cutlists, &cl)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterate cutlists: %w", err)
	}

	// Materials.
	rows, err = q.Query(ctx, `
		SELECT id, cutlist_id, name, total_sheets, sheet_statuses
		FROM cuttrack_materials
		WHERE job_id = ANY($1)
		ORDER BY cutlist_id, position`, ids)
	if err != nil {
		return fmt.Errorf("load materials: %w", err)
	}
	materials := make(map[string]*ledger.Material)
	for rows.Next() {
		var (
			m            ledger.Material
			mStr, clStr  string
			sheetColumns []string
		)
		if err := rows.Scan(&mStr, &clStr, &m.Name, &m.TotalSheets, &sheetColumns); err != nil {
			rows.Close()
			return fmt.Errorf("scan material: %w", err)
		}
		if m.ID, err = id.ParseMaterialID(mStr); err != nil {
			rows.Close()
			return err
		}
		cl, ok := cutlists[clStr]
		if !ok {
			continue
		}
		m.CutlistID = cl.ID
		m.Sheets = sheetsFromText(sheetColumns)
		materials[mStr] = &m
		cl.Materials = append(cl.Materials, &m)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterate materials: %w", err)
	}

	// Recuts.
	rows, err = q.Query(ctx, `
		SELECT id, material_id, quantity, sheet_statuses
		FROM cuttrack_recuts
		WHERE job_id = ANY($1)`, ids)
	if err != nil {
		return fmt.Errorf("load recuts: %w", err)
	}
	for rows.Next() {
		var (
			r            ledger.RecutEntry
			rStr, mStr   string
			sheetColumns []string
		)
		if err := rows.Scan(&rStr, &mStr, &r.Quantity, &sheetColumns); err != nil {
			rows.Close()
			return fmt.Errorf("scan recut: %w", err)
		}
		if r.ID, err = id.ParseRecutID(rStr); err != nil {
			rows.Close()
			return err
		}
		m, ok := materials[mStr]
		if !ok {
			continue
		}
		r.MaterialID = m.ID
		r.Sheets = sheetsFromText(sheetColumns)
		m.Recut = &r
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterate recuts: %w", err)
	}

	for _, j := range jobs {
		for _, m := range j.Materials() {
			m.Normalize()
		}
	}
	return nil
}

// writeJob persists the difference between before and after. The set of
// cutlists and materials is fixed at creation, so only job columns, sheet
// arrays and recut entries are ever rewritten.
func writeJob(ctx context.Context, tx pgx.Tx, before, after *job.Job) error {
	_, err := tx.Exec(ctx, `
		UPDATE cuttrack_jobs SET
			name = $2, status = $3, total_duration_ns = $4, timer_started_at = $5,
			pause_reason = $6, last_activity_at = $7, completed_at = $8,
			version = $9, updated_at = $10
		WHERE id = $1`,
		after.ID.String(), after.Name, string(after.Status),
		after.Timer.Total.Nanoseconds(), after.Timer.StartedAt,
		string(after.PauseReason), after.LastActivityAt, after.CompletedAt,
		after.Version, after.UpdatedAt,
	)
	if err != nil {
		return err
	}

	batch := &pgx.Batch{}
	for _, m := range after.Materials() {
		prev := before.Material(m.ID)
		if prev == nil || !sheetsEqual(prev.Sheets, m.Sheets) {
			batch.Queue(`UPDATE cuttrack_materials SET sheet_statuses = $2 WHERE id = $1`,
				m.ID.String(), sheetsToText(m.Sheets))
		}
		if m.Recut == nil {
			continue
		}
		if prev == nil || prev.Recut == nil || prev.Recut.Quantity != m.Recut.Quantity ||
			!sheetsEqual(prev.Recut.Sheets, m.Recut.Sheets) {
			queueRecutUpsert(batch, after.ID, m.Recut)
		}
	}
	if batch.Len() == 0 {
		return nil
	}
	return tx.SendBatch(ctx, batch).Close()
}

func queueRecutUpsert(batch *pgx.Batch, jobID id.JobID, r *ledger.RecutEntry) {
	batch.Queue(`
		INSERT INTO cuttrack_recuts (id, job_id, material_id, quantity, sheet_statuses)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO UPDATE SET
			quantity = EXCLUDED.quantity,
			sheet_statuses = EXCLUDED.sheet_statuses`,
		r.ID.String(), jobID.String(), r.MaterialID.String(), r.Quantity, sheetsToText(r.Sheets),
	)
}

// scanJob scans a single job row without its ledgers.
func scanJob(row pgx.Row) (*job.Job, error) {
	var (
		j         job.Job
		idStr     string
		statusStr string
		reasonStr string
		totalNs   int64
	)
	err := row.Scan(
		&idStr, &j.Name, &statusStr, &totalNs, &j.Timer.StartedAt, &reasonStr,
		&j.LastActivityAt, &j.CompletedAt, &j.Version, &j.CreatedAt, &j.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	j.Status = job.Status(statusStr)
	j.PauseReason = job.PauseReason(reasonStr)
	j.Timer.Total = time.Duration(totalNs)
	j.Timer.StartedAt = utcPtr(j.Timer.StartedAt)
	j.CompletedAt = utcPtr(j.CompletedAt)
	j.LastActivityAt = j.LastActivityAt.UTC()
	j.CreatedAt = j.CreatedAt.UTC()
	j.UpdatedAt = j.UpdatedAt.UTC()

	parsedID, parseErr := id.ParseJobID(idStr)
	if parseErr != nil {
		return nil, fmt.Errorf("cuttrack/postgres: parse job id %q: %w", idStr, parseErr)
	}
	j.ID = parsedID

	return &j, nil
}

// collectJobs collects all jobs from query rows.
func collectJobs(rows pgx.Rows) ([]*job.Job, error) {
	defer rows.Close()

	var jobs []*job.Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("cuttrack/postgres: scan job row: %w", err)
		}
		jobs = append(jobs, j)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("cuttrack/postgres: iterate job rows: %w", err)
	}
	return jobs, nil
}
