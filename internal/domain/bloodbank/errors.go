package bloodbank

import (
	"errors"
	"fmt"
)

// Error taxonomy for the blood-bank core. Every failure an operation returns
// wraps exactly one of these sentinels so callers (and the HTTP handler) can
// classify it with errors.Is while still seeing the specific unmet condition
// in the message.
var (
	// ErrNotFound: a referenced request/unit/sample/cross-match/equipment/
	// transfusion does not exist. Terminal to the operation.
	ErrNotFound = errors.New("not found")

	// ErrValidation: malformed input. Caller-fixable.
	ErrValidation = errors.New("validation failed")

	// ErrSafetyGate: a named clinical-safety gate blocked the operation. The
	// message always names the unmet condition(s). Some gate failures carry a
	// side effect (defensive quarantine) even though the operation fails.
	ErrSafetyGate = errors.New("safety gate failed")

	// ErrStateConflict: the entity is in an incompatible lifecycle state, or
	// a concurrent writer won the status transition. Caller must re-fetch.
	ErrStateConflict = errors.New("state conflict")
)

func notFoundf(format string, args ...interface{}) error {
	return fmt.Errorf("%w: "+format, append([]interface{}{ErrNotFound}, args...)...)
}

func validationf(format string, args ...interface{}) error {
	return fmt.Errorf("%w: "+format, append([]interface{}{ErrValidation}, args...)...)
}

func safetyGatef(format string, args ...interface{}) error {
	return fmt.Errorf("%w: "+format, append([]interface{}{ErrSafetyGate}, args...)...)
}

func stateConflictf(format string, args ...interface{}) error {
	return fmt.Errorf("%w: "+format, append([]interface{}{ErrStateConflict}, args...)...)
}

func IsNotFound(err error) bool      { return errors.Is(err, ErrNotFound) }
func IsValidation(err error) bool    { return errors.Is(err, ErrValidation) }
func IsSafetyGate(err error) bool    { return errors.Is(err, ErrSafetyGate) }
func IsStateConflict(err error) bool { return errors.Is(err, ErrStateConflict) }
