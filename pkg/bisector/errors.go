package bisector

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrInvalidInterval is returned when an interval with min > max or a negative bound is passed to a bisection
	ErrInvalidInterval = errors.New("invalid interval")
	// ErrOracleFailed is wrapped by every [OracleError]
	ErrOracleFailed = errors.New("oracle failed")
)

// An OracleError is returned by an oracle whose process could not be started or exited unsuccessfully.
// Whether such an error aborts a bisection depends on [Pair.Strict].
type OracleError struct {
	Oracle   string   // The name of the failed oracle
	Args     []string // The arguments the oracle was invoked with
	ExitCode int      // The exit code of the oracle process, or -1 if the process did not exit normally

	Err error // The underlying error
}

func (e *OracleError) Error() string {
	return fmt.Sprintf("oracle %s %s failed with exit code %d - %v", e.Oracle, strings.Join(e.Args, " "), e.ExitCode, e.Err)
}

func (e *OracleError) Unwrap() []error {
	return []error{ErrOracleFailed, e.Err}
}
