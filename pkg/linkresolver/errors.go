package linkresolver

import "errors"

// Resolution failure reasons. Every failed resolution wraps exactly one of
// these; callers branch with errors.Is. Failures are terminal; the engine
// never retries.
var (
	// ErrRedirectLimit is returned when a redirect chain exceeds the
	// configured hop bound.
	ErrRedirectLimit = errors.New("redirect limit exceeded")

	// ErrTimeout is returned when a resolution runs past its deadline.
	ErrTimeout = errors.New("resolution timed out")

	// ErrTransport is returned for network-level failures of the outbound
	// request.
	ErrTransport = errors.New("transport error")

	// ErrAborted is returned when the caller cancels a resolution mid-flight.
	ErrAborted = errors.New("resolution aborted")
)
