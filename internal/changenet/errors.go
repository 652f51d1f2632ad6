package changenet

import "errors"

var (
	// ErrInvocationFailed is returned when an asset upload or the inference call fails.
	ErrInvocationFailed = errors.New("change detection invocation failed")

	// ErrChangeMapNotFound is returned when the inference archive holds no usable image.
	ErrChangeMapNotFound = errors.New("change map not found")
)
