package image

import "fmt"

// ResolutionError reports that an image could not be made available
// locally.
type ResolutionError struct {
	Image string
	Err   error
}

func (e *ResolutionError) Error() string {
	return fmt.Sprintf("could not resolve image %s: %v", e.Image, e.Err)
}

func (e *ResolutionError) Unwrap() error {
	return e.Err
}
