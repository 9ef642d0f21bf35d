package monitor

import (
	"errors"
	"fmt"
)

var (
	// ErrFatal is matched by every FatalError.
	ErrFatal = errors.New("monitor fatal error")
	// ErrMonitorShutdown is the error of runs abandoned at the end of the
	// drain timeout.
	ErrMonitorShutdown = errors.New("monitor shutdown")
	// ErrNotDispatched is the error of fires still queued at shutdown.
	ErrNotDispatched = errors.New("fire not dispatched before shutdown")
	// ErrAlreadyRunning is wrapped in the FatalError of a second Run.
	ErrAlreadyRunning = errors.New("monitor is already running")
	// ErrUnknownTrigger is returned by ResetTrigger for an unknown id.
	ErrUnknownTrigger = errors.New("unknown trigger")
)

// FatalError stops the monitor before it starts serving, e.g. when the
// webhook listener cannot bind.
type FatalError struct {
	Err error
}

func (e *FatalError) Error() string {
	return fmt.Sprintf("monitor: fatal: %v", e.Err)
}

func (e *FatalError) Unwrap() error        { return e.Err }
func (e *FatalError) Is(target error) bool { return target == ErrFatal }
