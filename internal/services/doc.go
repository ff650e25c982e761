// Package services holds the shared plumbing for external collaborators:
// sentinel error markers with reason-code classification, context annotation
// helpers for task/stage/request correlation, and a bounded retry helper used
// by the fetch and transcribe phases.
package services
