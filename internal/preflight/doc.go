// Package preflight runs the checks behind `clipbridge doctor` and the silent
// first-run check before `clipbridge serve`.
//
// The package validates:
//   - the platform has a clip_tool build
//   - the clip_tool executable exists and can be launched
//   - an index has been built
//   - the data directory is writable with enough free space
//   - the file descriptor limit leaves room for the watcher
//
// Use the Checker type to run all validations:
//
//	checker := preflight.New()
//	results := checker.RunAll(ctx, loc.Describe(), cfg.DataDir)
//	if checker.HasCriticalFailures(results) {
//	    // Handle failures
//	}
package preflight
