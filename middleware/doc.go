// Package middleware provides composable middleware around engine
// mutations. Middleware wraps each operation synchronously while the job's
// lock is held and can observe or short-circuit it: recover from panics,
// log, trace, record metrics, bound execution time.
//
// The engine installs recover → tracing → metrics → logging → timeout by
// default; user middleware runs inside that stack.
package middleware
