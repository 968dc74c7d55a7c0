// Package stores persists the audit trail of deployment runs: the run
// outcome, every attempt with its template snapshot, the fixes applied,
// and the failure events collected from the gateway. The SQLite-backed
// store implements deploy.AuditStore.
package stores
