// Package api defines the wire types exchanged between the scribed daemon and
// its clients, plus the HTTP client the CLI uses to talk to a running daemon.
package api
