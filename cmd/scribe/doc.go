// Command scribe is the operator CLI for the scribed transcription daemon.
// Most commands talk to a running daemon over its HTTP API; `scribe daemon`
// runs the pipeline in the foreground for systemd or ad-hoc use.
package main
