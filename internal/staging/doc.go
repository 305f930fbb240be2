// Package staging manages the per-job work directories under paths.staging_dir.
// Each job works in <staging_dir>/<job id>; fetched remote inputs live under
// <staging_dir>/inputs/<request id>. Cleanup removes directories past the
// retention window and directories whose job no longer exists.
package staging
