// Package handle is the transactional connection layer over an embedded
// SQLite engine. A Handle owns exactly one engine connection, its pool of
// prepared Statements, its transaction/savepoint nesting, and a registry of
// named notification observers multiplexed onto the engine's native hook
// points.
//
// Handles are synchronous: open, execute, step and commit block the calling
// goroutine on engine I/O. One Handle serves one logical caller at a time.
// Pooling of Handles across callers is the job of an external connection
// pool, which is also what loans Handles to the checkpoint scheduler
// (package checkpoint) for background WAL maintenance.
//
// Failures follow a two-channel policy. The error returned by an operation
// answers "should this abort my operation": failures whose result code is
// currently marked ignorable return nil. The process-wide notifier (package
// notifier) answers "should this be observable": every failure's detailed
// record is forwarded there regardless, with a severity of Ignore or Error.
package handle
