package redis

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	goredis "github.com/redis/go-redis/v9"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/xraph/cuttrack"
	"github.com/xraph/cuttrack/backoff"
	"github.com/xraph/cuttrack/id"
	"github.com/xraph/cuttrack/job"
	"github.com/xraph/cuttrack/ledger"
)

// CreateJob stores the aggregate and indexes it. SETNX on the aggregate
// key rejects duplicates.
func (s *Store) CreateJob(ctx context.Context, j *job.Job) error {
	jID := j.ID.String()
	data, err := encodeJob(j)
	if err != nil {
		return fmt.Errorf("cuttrack/redis: encode job: %w", err)
	}

	ok, err := s.client.SetNX(ctx, s.keys.job(jID), data, 0).Result()
	if err != nil {
		return fmt.Errorf("cuttrack/redis: create job: %w", err)
	}
	if !ok {
		return cuttrack.ErrJobAlreadyExists
	}

	pipe := s.client.TxPipeline()
	z := goredis.Z{Score: score(j), Member: jID}
	pipe.ZAdd(ctx, s.keys.jobs(), z)
	pipe.ZAdd(ctx, s.keys.byStatus(string(j.Status)), z)
	s.queueOwners(ctx, pipe, nil, j)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("cuttrack/redis: index job: %w", err)
	}
	return nil
}

// GetJob retrieves a job aggregate by ID.
func (s *Store) GetJob(ctx context.Context, jobID id.JobID) (*job.Job, error) {
	data, err := s.client.Get(ctx, s.keys.job(jobID.String())).Bytes()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return nil, cuttrack.ErrJobNotFound
		}
		return nil, fmt.Errorf("cuttrack/redis: get job: %w", err)
	}
	return decodeJob(data)
}

// MutateJob runs fn inside a WATCH transaction on the aggregate key. A
// concurrent write aborts the EXEC and the whole read-modify-write is
// retried under the store's retry policy.
func (s *Store) MutateJob(ctx context.Context, jobID id.JobID, fn job.MutateFunc) (*job.Job, error) {
	key := s.keys.job(jobID.String())

	var result *job.Job
	txf := func(tx *goredis.Tx) error {
		data, err := tx.Get(ctx, key).Bytes()
		if err != nil {
			if errors.Is(err, goredis.Nil) {
				return cuttrack.ErrJobNotFound
			}
			return fmt.Errorf("cuttrack/redis: get job: %w", err)
		}
		before, err := decodeJob(data)
		if err != nil {
			return err
		}

		j := before.Clone()
		if err := fn(j); err != nil {
			if errors.Is(err, job.ErrNoChange) {
				result = before
				return nil
			}
			return err
		}
		j.Version = before.Version + 1

		next, err := encodeJob(j)
		if err != nil {
			return fmt.Errorf("cuttrack/redis: encode job: %w", err)
		}

		_, err = tx.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
			pipe.Set(ctx, key, next, 0)
			if before.Status != j.Status {
				member := j.ID.String()
				pipe.ZRem(ctx, s.keys.byStatus(string(before.Status)), member)
				pipe.ZAdd(ctx, s.keys.byStatus(string(j.Status)), goredis.Z{Score: score(j), Member: member})
			}
			s.queueOwners(ctx, pipe, before, j)
			return nil
		})
		if err != nil {
			return err
		}
		result = j
		return nil
	}

	err := backoff.Retry(ctx, s.retry, func(ctx context.Context, _ int) error {
		err := s.client.Watch(ctx, txf, key)
		if err == nil || errors.Is(err, goredis.TxFailedErr) {
			return err
		}
		return backoff.Permanent(err)
	})
	if err != nil {
		if errors.Is(err, backoff.ErrExhausted) {
			s.logger.Warn("cuttrack/redis: giving up on contended job",
				slog.String("job_id", jobID.String()),
			)
			return nil, fmt.Errorf("%w: job %s", cuttrack.ErrConcurrencyConflict, jobID)
		}
		return nil, err
	}
	return result, nil
}

// DeleteJob removes the aggregate and all of its index entries.
func (s *Store) DeleteJob(ctx context.Context, jobID id.JobID) error {
	j, err := s.GetJob(ctx, jobID)
	if err != nil {
		return err
	}

	jID := jobID.String()
	pipe := s.client.TxPipeline()
	del := pipe.Del(ctx, s.keys.job(jID))
	pipe.ZRem(ctx, s.keys.jobs(), jID)
	pipe.ZRem(ctx, s.keys.byStatus(string(j.Status)), jID)
	for _, m := range j.Materials() {
		pipe.HDel(ctx, s.keys.materialOwner(), m.ID.String())
		if m.Recut != nil {
			pipe.HDel(ctx, s.keys.recutOwner(), m.Recut.ID.String())
		}
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("cuttrack/redis: delete job: %w", err)
	}
	if del.Val() == 0 {
		return cuttrack.ErrJobNotFound
	}
	return nil
}

// ListJobs returns jobs ordered by creation time. Equal timestamps fall
// back to ID order, which is how Redis orders equal scores.
func (s *Store) ListJobs(ctx context.Context, opts job.ListOpts) ([]*job.Job, error) {
	index := s.keys.jobs()
	if opts.Status != "" {
		index = s.keys.byStatus(string(opts.Status))
	}

	start := int64(opts.Offset)
	stop := int64(-1)
	if opts.Limit > 0 {
		stop = start + int64(opts.Limit) - 1
	}

	ids, err := s.client.ZRange(ctx, index, start, stop).Result()
	if err != nil {
		return nil, fmt.Errorf("cuttrack/redis: list jobs: %w", err)
	}
	if len(ids) == 0 {
		return nil, nil
	}

	keys := make([]string, len(ids))
	for i, jID := range ids {
		keys[i] = s.keys.job(jID)
	}
	vals, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("cuttrack/redis: list jobs: %w", err)
	}

	jobs := make([]*job.Job, 0, len(vals))
	for _, v := range vals {
		raw, ok := v.(string)
		if !ok {
			// Deleted between ZRANGE and MGET.
			continue
		}
		j, err := decodeJob([]byte(raw))
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, j)
	}
	return jobs, nil
}

// LookupMaterial returns the ID of the job owning a material.
func (s *Store) LookupMaterial(ctx context.Context, materialID id.MaterialID) (id.JobID, error) {
	return s.lookupOwner(ctx, s.keys.materialOwner(), materialID, cuttrack.ErrMaterialNotFound)
}

// LookupRecut returns the ID of the job owning a recut entry.
func (s *Store) LookupRecut(ctx context.Context, recutID id.RecutID) (id.JobID, error) {
	return s.lookupOwner(ctx, s.keys.recutOwner(), recutID, cuttrack.ErrRecutNotFound)
}

func (s *Store) lookupOwner(ctx context.Context, hash string, target id.ID, notFound error) (id.JobID, error) {
	jobStr, err := s.client.HGet(ctx, hash, target.String()).Result()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return id.Nil, notFound
		}
		return id.Nil, fmt.Errorf("cuttrack/redis: lookup owner of %s: %w", target, err)
	}
	jobID, err := id.ParseJobID(jobStr)
	if err != nil {
		return id.Nil, fmt.Errorf("cuttrack/redis: parse job id %q: %w", jobStr, err)
	}
	return jobID, nil
}

// queueOwners adds ownership entries for materials and recuts that are new
// in after. before may be nil for a fresh job.
func (s *Store) queueOwners(ctx context.Context, pipe goredis.Pipeliner, before, after *job.Job) {
	jID := after.ID.String()
	for _, m := range after.Materials() {
		var prev *ledger.Material
		if before != nil {
			prev = before.Material(m.ID)
		}
		if prev == nil {
			pipe.HSet(ctx, s.keys.materialOwner(), m.ID.String(), jID)
		}
		if m.Recut != nil && (prev == nil || prev.Recut == nil) {
			pipe.HSet(ctx, s.keys.recutOwner(), m.Recut.ID.String(), jID)
		}
	}
}

// ──────────────────────────────────────────────────
// Encoding
// ──────────────────────────────────────────────────

func encodeJob(j *job.Job) ([]byte, error) {
	return msgpack.Marshal(j)
}

func decodeJob(data []byte) (*job.Job, error) {
	var j job.Job
	if err := msgpack.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("cuttrack/redis: decode job: %w", err)
	}
	toUTC(&j)
	j.Normalize()
	return &j, nil
}

// toUTC undoes msgpack decoding times into the local zone.
func toUTC(j *job.Job) {
	j.CreatedAt = j.CreatedAt.UTC()
	j.UpdatedAt = j.UpdatedAt.UTC()
	j.LastActivityAt = j.LastActivityAt.UTC()
	if j.Timer.StartedAt != nil {
		t := j.Timer.StartedAt.UTC()
		j.Timer.StartedAt = &t
	}
	if j.CompletedAt != nil {
		t := j.CompletedAt.UTC()
		j.CompletedAt = &t
	}
}

// score orders jobs by creation time in microseconds, which stays exact in
// a float64 score.
func score(j *job.Job) float64 {
	return float64(j.CreatedAt.UnixMicro())
}
