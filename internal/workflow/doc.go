// Package workflow orchestrates the transcription pipeline: a bounded pool of
// workers claims pending tasks from the queue, fetches audio, runs the
// transcriber, and persists the resulting transcript. The manager also runs
// the heartbeat reclaim loop so tasks abandoned by a dead worker return to
// pending.
package workflow
