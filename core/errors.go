package knaster

import (
	"errors"
	"fmt"
)

// Sentinel error kinds from the error-handling design: commit-time
// failures are all classified as EditRejected and wrapped so callers can
// still errors.Is against the specific cause.
var (
	ErrEditRejected         = errors.New("knaster: edit rejected")
	ErrCycleDetected        = errors.New("knaster: cycle in non-feedback subgraph")
	ErrChannelCountMismatch = errors.New("knaster: channel count mismatch")
	ErrCapacityExceeded     = errors.New("knaster: buffer or node capacity exceeded")
	ErrUnknownNode          = errors.New("knaster: unknown node")
	ErrChannelOutOfRange    = errors.New("knaster: channel index out of range")
	ErrParameterUnknown     = errors.New("knaster: unknown parameter")
	ErrRingFull             = errors.New("knaster: parameter ring full")
)

// RejectedEdit names the offending edge for a cycle rejection, the way a
// control-thread caller needs in order to report something actionable.
type RejectedEdit struct {
	Cause      error
	SrcName    string
	DstName    string
	SrcChannel int
	DstChannel int
}

func (e *RejectedEdit) Error() string {
	if e.SrcName == "" && e.DstName == "" {
		return fmt.Sprintf("%v: %v", ErrEditRejected, e.Cause)
	}
	return fmt.Sprintf("%v: %v (%s:%d -> %s:%d)", ErrEditRejected, e.Cause, e.SrcName, e.SrcChannel, e.DstName, e.DstChannel)
}

func (e *RejectedEdit) Unwrap() []error { return []error{ErrEditRejected, e.Cause} }
