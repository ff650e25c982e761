// Package queue persists transcription tasks in SQLite and exposes helpers
// for driving their lifecycle.
//
// The Store manages database connections, schema initialization, channel
// subscriptions, transcript persistence, stats queries, heartbeat tracking,
// stuck-task recovery, and the status transitions that mirror the public
// workflow enum. Tasks capture video metadata, attempt counts, and artifact
// bookkeeping so the pipeline stages can coordinate without additional state.
//
// Completed transcripts are the long-term record; tasks are working state.
// Schema changes bump the version in schema.go; users clear the database to
// adopt the new schema.
package queue
