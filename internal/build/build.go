// Package build provides build information that is linked into the application. Other
// packages within this project can use this information in logs etc..
package build

var (
	// Version is the build version of the binary (e.g. v0.5.0 or v0.5.0-dirty).
	Version = "dev"

	// Commit is the git commit hash that the binary was built from.
	Commit = "none"

	// Date is the date when the binary was built.
	Date = "unknown"

	// ProjectID is the identifier used for traces and logs emitted by this binary.
	ProjectID = "expander"
)
