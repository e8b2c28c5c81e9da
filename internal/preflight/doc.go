// Package preflight checks that a data directory can host views before
// the server or CLI touches it.
//
// The checks cover:
//   - Write permission in the data directory
//   - Free disk space (minimum 100MB)
//   - File descriptor limit (minimum 1024)
//   - Each view: readable properties, valid tuning, lock state
//
// Use the Checker type to run all validations:
//
//	checker := preflight.New()
//	results := checker.RunAll(ctx, dataDir)
//	if checker.HasCriticalFailures(results) {
//	    // Handle failures
//	}
package preflight
