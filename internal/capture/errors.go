package capture

import "github.com/soundspine/capturemix/internal/errors"

// Component identifier for capture engine errors
const ComponentCapture = "capture"

// errInvalidState builds the wrong-state error returned for operations
// that are not legal in the current session state.
func errInvalidState(operation string, state State) error {
	return errors.Newf("operation %s not legal in state %s", operation, state).
		Component(ComponentCapture).
		Category(errors.CategoryState).
		Context("operation", operation).
		Context("state", state.String()).
		Build()
}

// errShutDown is returned for any operation on a session that has been
// shut down.
func errShutDown(operation string) error {
	return errors.Newf("capture session is shut down").
		Component(ComponentCapture).
		Category(errors.CategoryState).
		Context("operation", operation).
		Build()
}
