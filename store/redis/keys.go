package redis

// Key layout, relative to the store prefix (default "cuttrack:"):
//
//	job:{id}          msgpack job aggregate
//	jobs              ZSET of every job ID, scored by creation time
//	jobs:{status}     ZSET of job IDs per status, scored by creation time
//	owner:material    HASH material ID -> job ID
//	owner:recut       HASH recut ID -> job ID

const defaultKeyPrefix = "cuttrack:"

type keys struct{ prefix string }

// job returns the aggregate key for a job.
func (k keys) job(id string) string { return k.prefix + "job:" + id }

// jobs returns the index of all jobs.
func (k keys) jobs() string { return k.prefix + "jobs" }

// byStatus returns the index of jobs with the given status.
func (k keys) byStatus(status string) string { return k.prefix + "jobs:" + status }

func (k keys) materialOwner() string { return k.prefix + "owner:material" }

func (k keys) recutOwner() string { return k.prefix + "owner:recut" }
