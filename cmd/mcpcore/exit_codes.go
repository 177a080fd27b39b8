package main

// Exit codes distinguishing why the core terminated, for supervisors
// that want more than a boolean success/failure signal.

const (
	ExitCodeSuccess = 0
	ExitCodeGeneralError = 1
	ExitCodeDBLocked = 3
	ExitCodeConfigError = 4
)
