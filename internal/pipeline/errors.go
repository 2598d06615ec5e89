package pipeline

import (
	"errors"
	"fmt"
)

// ErrMalformedSpec is the sentinel all structural pipeline errors unwrap to.
var ErrMalformedSpec = errors.New("malformed pipeline spec")

// MalformedSpecError is a structural or configuration defect detected before
// any stage executes. Stage is empty when the defect is pipeline-wide.
type MalformedSpecError struct {
	Stage string
	Msg   string
}

func (e *MalformedSpecError) Error() string {
	if e.Stage == "" {
		return fmt.Sprintf("%s: %s", ErrMalformedSpec.Error(), e.Msg)
	}
	return fmt.Sprintf("%s: stage %q: %s", ErrMalformedSpec.Error(), e.Stage, e.Msg)
}

func (e *MalformedSpecError) Unwrap() error { return ErrMalformedSpec }

func malformedf(stage, format string, args ...any) error {
	return &MalformedSpecError{Stage: stage, Msg: fmt.Sprintf(format, args...)}
}

// IsMalformedSpec reports whether err is a pipeline validation failure.
func IsMalformedSpec(err error) bool {
	return errors.Is(err, ErrMalformedSpec)
}
