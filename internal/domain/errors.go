package domain

import "errors"

// ─── Sentinel Errors ────────────────────────────────────────────────────────
// Domain errors are pure — no infrastructure dependency. The intake layer
// maps them to HTTP 400 responses; the pipeline aborts on them.

var (
	ErrBadSimName      = errors.New("simulation name does not match the required pattern")
	ErrBadSHA          = errors.New("repo sha is not a 40-character hex string")
	ErrBadVersion      = errors.New("version string is malformed")
	ErrNoBranch        = errors.New("branch not given and not derivable from version")
	ErrBadChipper      = errors.New("unsupported chipper version")
	ErrVersionMismatch = errors.New("package version does not match requested version")
)
