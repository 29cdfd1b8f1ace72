package importerr

import (
	"errors"
	"fmt"
)

// RunError is a lifecycle failure raised by the repository platform while a
// record is being created, versioned, published or deleted.
type RunError struct {
	// Type is the error type recorded for the failure.
	Type string
	// Op names the failed step, e.g. "publish".
	Op string
	// Target is the identifier of the record, draft or file the step acted on.
	Target string
	// Loc is the location reported for the failure. Defaults to "record".
	Loc string
	Err error
}

// NewRunError wraps err as a record service failure of op on target.
func NewRunError(op, target string, err error) *RunError {
	return &RunError{Type: TypeRecordService, Op: op, Target: target, Err: err}
}

// NewFileError wraps err as a failed upload of the file key.
func NewFileError(op, key string, err error) *RunError {
	return &RunError{Type: TypeFileUpload, Op: op, Target: key, Loc: "files", Err: err}
}

func (e *RunError) Error() string {
	if e.Target == "" {
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("%s '%s': %v", e.Op, e.Target, e.Err)
}

func (e *RunError) Unwrap() error {
	return e.Err
}

// AsError converts the failure into a collected Error.
func (e *RunError) AsError() Error {
	loc := e.Loc
	if loc == "" {
		loc = "record"
	}
	return Error{Type: e.Type, Loc: loc, Msg: e.Error()}
}

// Detailed is implemented by platform errors that carry field-level
// failures of the submitted record.
type Detailed interface {
	error
	Details() List
}

// Details returns the field-level failures found in err's chain.
func Details(err error) List {
	var d Detailed
	if errors.As(err, &d) {
		return d.Details()
	}
	return nil
}
