package slave

import (
	"errors"
	"fmt"
	"strings"

	"github.com/RevCBH/dockerslaves/internal/container"
)

var (
	// ErrPhaseRegression is returned for calls that would move the build
	// back to an earlier phase.
	ErrPhaseRegression = errors.New("phase regression")

	// ErrInvalidTransition is returned for calls made before the state they
	// require has been reached.
	ErrInvalidTransition = errors.New("invalid state transition")

	// ErrTerminated is returned for calls made after cleanup started.
	ErrTerminated = errors.New("build environment terminated")
)

// ProvisioningError reports that a container needed by the build could not
// be made available. Cleanup has already run when it is returned.
type ProvisioningError struct {
	Role  container.Role
	Image string
	Err   error
}

func (e *ProvisioningError) Error() string {
	if e.Image == "" {
		return fmt.Sprintf("could not provision %s container: %v", e.Role, e.Err)
	}
	return fmt.Sprintf("could not provision %s container (image %s): %v", e.Role, e.Image, e.Err)
}

func (e *ProvisioningError) Unwrap() error {
	return e.Err
}

// CleanupFailure is a container that could not be removed.
type CleanupFailure struct {
	Container string
	ID        container.ContainerID
	Err       error
}

// CleanupError aggregates the failures of one cleanup pass.
type CleanupError struct {
	Failures []CleanupFailure
}

func (e *CleanupError) Error() string {
	parts := make([]string, 0, len(e.Failures))
	for _, f := range e.Failures {
		parts = append(parts, fmt.Sprintf("%s: %v", f.Container, f.Err))
	}
	return fmt.Sprintf("cleanup failed for %d container(s): %s", len(e.Failures), strings.Join(parts, "; "))
}

func (e *CleanupError) Unwrap() []error {
	errs := make([]error, 0, len(e.Failures))
	for _, f := range e.Failures {
		errs = append(errs, f.Err)
	}
	return errs
}
