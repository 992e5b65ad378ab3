package core

import (
	"errors"
	"fmt"
)

var (
	ErrProbeTimeout      = errors.New("probe timed out")
	ErrProbeNetwork      = errors.New("probe network error")
	ErrParse             = errors.New("parse error")
	ErrOrchestratorFault = errors.New("orchestrator fault")
	ErrNotFound          = errors.New("not found")
)

// ProbeError describes a failed HTTP exchange. Kind is ErrProbeTimeout or
// ErrProbeNetwork.
type ProbeError struct {
	Kind  error
	URL   string
	Cause error
}

func (e *ProbeError) Error() string {
	if e.Cause == nil {
		return fmt.Sprintf("%v: %s", e.Kind, e.URL)
	}
	return fmt.Sprintf("%v: %s: %v", e.Kind, e.URL, e.Cause)
}

func (e *ProbeError) Unwrap() []error {
	if e.Cause == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Cause}
}

// DetectorError reports that a detector could not complete.
type DetectorError struct {
	Detector string
	Err      error
}

func NewDetectorError(detector string, err error) *DetectorError {
	return &DetectorError{Detector: detector, Err: err}
}

func (e *DetectorError) Error() string {
	return fmt.Sprintf("detector %s failed: %v", e.Detector, e.Err)
}

func (e *DetectorError) Unwrap() error {
	return e.Err
}
