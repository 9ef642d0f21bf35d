// Package trigger defines the sources that start pipeline runs.
//
// A Trigger is polled: Check reports whether the trigger fired since the
// previous call and, if so, the parameters for the run. Check never runs the
// pipeline itself. Event-driven sources (filesystem notifications, HTTP
// requests) buffer what they observe and hand it out one fire per Check.
package trigger

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Parameter keys added to every fire.
const (
	ParamTriggerID = "trigger_id"
)

// ErrTrigger is matched by every CheckError.
var ErrTrigger = errors.New("trigger error")

// Trigger is a source of pipeline runs bound to a single pipeline.
type Trigger interface {
	ID() string
	Pipeline() string
	// Check reports whether the trigger fired. It must be cheap and must not
	// start the run.
	Check(ctx context.Context) (fired bool, params map[string]any, err error)
}

// Starter is implemented by triggers that own background resources.
type Starter interface {
	Start(ctx context.Context) error
	Stop() error
}

// Kind returns a short name for the trigger variant.
func Kind(t Trigger) string {
	switch t.(type) {
	case *Cron:
		return "cron"
	case *FileWatcher:
		return "file"
	case *Webhook:
		return "webhook"
	default:
		return fmt.Sprintf("%T", t)
	}
}

// CheckError wraps a failed Check.
type CheckError struct {
	TriggerID string
	Err       error
}

func (e *CheckError) Error() string {
	return fmt.Sprintf("trigger %q: check failed: %v", e.TriggerID, e.Err)
}

func (e *CheckError) Unwrap() error        { return e.Err }
func (e *CheckError) Is(target error) bool { return target == ErrTrigger }

func validateBinding(kind, id, pipeline string) error {
	if id == "" {
		return fmt.Errorf("%s trigger: id is required", kind)
	}
	if pipeline == "" {
		return fmt.Errorf("%s trigger %q: pipeline is required", kind, id)
	}
	return nil
}

func clockOrNow(clock func() time.Time) func() time.Time {
	if clock == nil {
		return time.Now
	}
	return clock
}
