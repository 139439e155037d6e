// Package preflight provides system validation and pre-flight checks
// to ensure the server can run successfully before starting operations.
//
// The package validates:
//   - Configuration validity
//   - Data root existence and write permissions
//   - Disk space availability (minimum 100MB)
//   - Memory availability (minimum 1GB)
//   - File descriptor limits (minimum 1024)
//   - Vector store and sidecar reachability (encoder, parser, converter)
//   - Redis reachability (optional)
//
// Use the Checker type to run all validations:
//
//	checker := preflight.New()
//	results := checker.RunAll(ctx, cfg)
//	if checker.HasCriticalFailures(results) {
//	    // Handle failures
//	}
package preflight
