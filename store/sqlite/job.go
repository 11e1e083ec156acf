package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/xraph/cuttrack"
	"github.com/xraph/cuttrack/id"
	"github.com/xraph/cuttrack/job"
)

const (
	ownerMaterial = "material"
	ownerRecut    = "recut"
)

// CreateJob persists a new job aggregate and its ownership rows.
func (s *Store) CreateJob(ctx context.Context, j *job.Job) error {
	data, err := json.Marshal(j)
	if err != nil {
		return fmt.Errorf("cuttrack/sqlite: encode job: %w", err)
	}

	err = s.inTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO cuttrack_jobs (id, status, version, created_ns, data)
			VALUES (?, ?, ?, ?, ?)`,
			j.ID.String(), string(j.Status), j.Version, j.CreatedAt.UnixNano(), string(data),
		)
		if err != nil {
			return err
		}
		return insertOwners(ctx, tx, nil, j)
	})
	if err != nil {
		if isDuplicateKey(err) {
			return cuttrack.ErrJobAlreadyExists
		}
		return fmt.Errorf("cuttrack/sqlite: create job: %w", err)
	}
	return nil
}

// GetJob retrieves a job aggregate by ID.
func (s *Store) GetJob(ctx context.Context, jobID id.JobID) (*job.Job, error) {
	var data string
	err := s.db.QueryRowContext(ctx,
		`SELECT data FROM cuttrack_jobs WHERE id = ?`, jobID.String(),
	).Scan(&data)
	if err != nil {
		if isNoRows(err) {
			return nil, cuttrack.ErrJobNotFound
		}
		return nil, fmt.Errorf("cuttrack/sqlite: get job: %w", err)
	}
	return decodeJob(data)
}

// MutateJob takes SQLite's write lock with BEGIN IMMEDIATE on a dedicated
// connection, applies fn and commits. Other writers wait on busy_timeout.
func (s *Store) MutateJob(ctx context.Context, jobID id.JobID, fn job.MutateFunc) (*job.Job, error) {
	conn, err := s.db.Conn(ctx)
	if err != nil {
		return nil, fmt.Errorf("cuttrack/sqlite: conn: %w", err)
	}
	defer conn.Close()

	if _, err := conn.ExecContext(ctx, `BEGIN IMMEDIATE`); err != nil {
		return nil, fmt.Errorf("cuttrack/sqlite: begin: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			_, _ = conn.ExecContext(context.WithoutCancel(ctx), `ROLLBACK`)
		}
	}()

	var data string
	err = conn.QueryRowContext(ctx,
		`SELECT data FROM cuttrack_jobs WHERE id = ?`, jobID.String(),
	).Scan(&data)
	if err != nil {
		if isNoRows(err) {
			return nil, cuttrack.ErrJobNotFound
		}
		return nil, fmt.Errorf("cuttrack/sqlite: load job: %w", err)
	}
	before, err := decodeJob(data)
	if err != nil {
		return nil, err
	}

	j := before.Clone()
	if err := fn(j); err != nil {
		if errors.Is(err, job.ErrNoChange) {
			return before, nil
		}
		return nil, err
	}
	j.Version = before.Version + 1

	next, err := json.Marshal(j)
	if err != nil {
		return nil, fmt.Errorf("cuttrack/sqlite: encode job: %w", err)
	}
	_, err = conn.ExecContext(ctx, `
		UPDATE cuttrack_jobs SET status = ?, version = ?, data = ? WHERE id = ?`,
		string(j.Status), j.Version, string(next), j.ID.String(),
	)
	if err != nil {
		return nil, fmt.Errorf("cuttrack/sqlite: update job: %w", err)
	}
	if err := insertOwners(ctx, conn, before, j); err != nil {
		return nil, fmt.Errorf("cuttrack/sqlite: index job: %w", err)
	}

	if _, err := conn.ExecContext(ctx, `COMMIT`); err != nil {
		return nil, fmt.Errorf("cuttrack/sqlite: commit: %w", err)
	}
	committed = true
	return j, nil
}

// DeleteJob removes a job. Ownership rows cascade.
func (s *Store) DeleteJob(ctx context.Context, jobID id.JobID) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM cuttrack_jobs WHERE id = ?`, jobID.String())
	if err != nil {
		return fmt.Errorf("cuttrack/sqlite: delete job: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("cuttrack/sqlite: delete job: %w", err)
	}
	if n == 0 {
		return cuttrack.ErrJobNotFound
	}
	return nil
}

// ListJobs returns jobs ordered by creation time.
func (s *Store) ListJobs(ctx context.Context, opts job.ListOpts) ([]*job.Job, error) {
	query := `SELECT data FROM cuttrack_jobs`
	var args []any

	if opts.Status != "" {
		query += ` WHERE status = ?`
		args = append(args, string(opts.Status))
	}
	query += ` ORDER BY created_ns ASC, id ASC`

	// SQLite requires LIMIT when OFFSET is present; -1 means unbounded.
	if opts.Limit > 0 || opts.Offset > 0 {
		limit := opts.Limit
		if limit <= 0 {
			limit = -1
		}
		query += ` LIMIT ? OFFSET ?`
		args = append(args, limit, opts.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("cuttrack/sqlite: list jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*job.Job
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("cuttrack/sqlite: scan job row: %w", err)
		}
		j, err := decodeJob(data)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, j)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("cuttrack/sqlite: iterate job rows: %w", err)
	}
	return jobs, nil
}

// LookupMaterial returns the ID of the job owning a material.
func (s *Store) LookupMaterial(ctx context.Context, materialID id.MaterialID) (id.JobID, error) {
	return s.lookupOwner(ctx, ownerMaterial, materialID, cuttrack.ErrMaterialNotFound)
}

// LookupRecut returns the ID of the job owning a recut entry.
func (s *Store) LookupRecut(ctx context.Context, recutID id.RecutID) (id.JobID, error) {
	return s.lookupOwner(ctx, ownerRecut, recutID, cuttrack.ErrRecutNotFound)
}

func (s *Store) lookupOwner(ctx context.Context, kind string, target id.ID, notFound error) (id.JobID, error) {
	var jobStr string
	err := s.db.QueryRowContext(ctx,
		`SELECT job_id FROM cuttrack_owners WHERE target_id = ? AND kind = ?`,
		target.String(), kind,
	).Scan(&jobStr)
	if err != nil {
		if isNoRows(err) {
			return id.Nil, notFound
		}
		return id.Nil, fmt.Errorf("cuttrack/sqlite: lookup owner of %s: %w", target, err)
	}
	jobID, err := id.ParseJobID(jobStr)
	if err != nil {
		return id.Nil, fmt.Errorf("cuttrack/sqlite: parse job id %q: %w", jobStr, err)
	}
	return jobID, nil
}

// execer is satisfied by *sql.Tx and *sql.Conn.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// insertOwners records ownership of materials and recuts that are new in
// after. before is nil for a fresh job.
func insertOwners(ctx context.Context, ex execer, before, after *job.Job) error {
	jID := after.ID.String()
	for _, m := range after.Materials() {
		var prevRecut bool
		known := false
		if before != nil {
			if prev := before.Material(m.ID); prev != nil {
				known = true
				prevRecut = prev.Recut != nil
			}
		}
		if !known {
			if _, err := ex.ExecContext(ctx,
				`INSERT INTO cuttrack_owners (target_id, kind, job_id) VALUES (?, ?, ?)`,
				m.ID.String(), ownerMaterial, jID,
			); err != nil {
				return err
			}
		}
		if m.Recut != nil && !prevRecut {
			if _, err := ex.ExecContext(ctx,
				`INSERT INTO cuttrack_owners (target_id, kind, job_id) VALUES (?, ?, ?)`,
				m.Recut.ID.String(), ownerRecut, jID,
			); err != nil {
				return err
			}
		}
	}
	return nil
}

func decodeJob(data string) (*job.Job, error) {
	var j job.Job
	if err := json.Unmarshal([]byte(data), &j); err != nil {
		return nil, fmt.Errorf("cuttrack/sqlite: decode job: %w", err)
	}
	j.Normalize()
	return &j, nil
}
