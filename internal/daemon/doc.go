// Package daemon ties the long-running services together: it enforces
// single-instance execution, recovers interrupted work at startup, runs the
// discovery, workflow, and reclamation loops, and serves the HTTP API the CLI
// talks to.
package daemon
