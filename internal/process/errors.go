package process

import "errors"

var (
	ErrBuildFailed  = errors.New("build failed")
	ErrLaunchFailed = errors.New("launch failed")
	// ErrPIDNotSet means a liveness or termination call reached a handle that
	// was never launched. Correct harness code never triggers it.
	ErrPIDNotSet    = errors.New("pid not set: process was not launched")
	ErrHandleReused = errors.New("handle already started; create a new one")
)
