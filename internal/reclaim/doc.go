// Package reclaim keeps staged audio artifacts within the configured
// temporary storage budget.
//
// The Reclaimer deletes a task's artifact immediately after its transcript is
// committed, and sweeps the staging directory oldest-first whenever usage
// crosses the cleanup threshold. Artifacts owned by in-flight tasks are never
// swept, and failed tasks' artifacts survive when retention is configured.
package reclaim
