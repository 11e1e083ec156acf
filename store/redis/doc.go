// Package redis implements store.Store on Redis. Each job aggregate is one
// msgpack-encoded string; sorted sets keep creation order per status and
// hashes map materials and recut entries back to their job.
//
// Writes to a job use WATCH/MULTI optimistic transactions. A transaction
// that loses a race is retried with jittered backoff and, when attempts
// run out, fails with cuttrack.ErrConcurrencyConflict.
//
// The caller owns the client lifecycle:
//
//	client := goredis.NewClient(&goredis.Options{Addr: "localhost:6379"})
//	s := redis.New(client)
//	if err := s.Ping(ctx); err != nil { ... }
package redis
