// Package preflight provides readiness checks for the binaries, directories,
// and HTTP collaborators dubline depends on.
//
// These checks run in two contexts:
//   - The daemon runs RunAll at startup and logs failures, so a misconfigured
//     host is visible before the first job burns through its stages.
//   - The CLI "dubline deps" command prints CheckSystemDeps and RunAll.
//
// Checks for collaborators are gated by the selected engine: a disabled or
// unselected engine is skipped.
package preflight
