package orchestrator

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidDescriptor marks a malformed descriptor.
	ErrInvalidDescriptor = errors.New("invalid descriptor")
	// ErrInvalidProjectPath marks a missing or unreadable project directory.
	ErrInvalidProjectPath = errors.New("invalid project path")
	// ErrDuplicateTool marks two descriptors sharing one name.
	ErrDuplicateTool = errors.New("duplicate tool name")
	// ErrInvalidPolicy marks a policy other than strict or progressive.
	ErrInvalidPolicy = errors.New("invalid policy")
	// ErrNoDescriptors is returned when a run is requested with no gates.
	ErrNoDescriptors = errors.New("no descriptors")
)

// ContractError is a caller mistake detected before any tool runs.
type ContractError struct {
	Tool   string
	Reason string
	Err    error
}

func (e *ContractError) Error() string {
	if e.Tool == "" {
		return fmt.Sprintf("%v: %s", e.Err, e.Reason)
	}
	return fmt.Sprintf("%v %q: %s", e.Err, e.Tool, e.Reason)
}

func (e *ContractError) Unwrap() error {
	return e.Err
}

// IsContractError reports whether err is a contract violation.
func IsContractError(err error) bool {
	var ce *ContractError
	return errors.As(err, &ce)
}
