// Package upstream classifies failures from external provider calls into a
// small error taxonomy shared by the adapters, the health prober, and the
// orchestrator.
package upstream

import (
	"context"
	"errors"
	"fmt"
	"net"
)

// Sentinel errors. Callers branch with errors.Is; HTTPError additionally
// carries the status code.
var (
	ErrTimeout    = errors.New("upstream timeout")
	ErrConnection = errors.New("upstream connection error")
	ErrProtocol   = errors.New("upstream protocol error")
)

// HTTPError is a non-2xx response from a provider.
type HTTPError struct {
	StatusCode int
	Body       string
}

func (e *HTTPError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("upstream HTTP %d", e.StatusCode)
	}
	return fmt.Sprintf("upstream HTTP %d: %s", e.StatusCode, e.Body)
}

// Classify maps transport-level errors to sentinel errors so callers never
// have to inspect net internals.
func Classify(err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return fmt.Errorf("%w: %v", ErrTimeout, err)
		}
		return fmt.Errorf("%w: %v", ErrConnection, err)
	}

	return fmt.Errorf("%w: %v", ErrConnection, err)
}

// IsTimeout reports whether err is a timeout in either sentinel or raw form.
func IsTimeout(err error) bool {
	if errors.Is(err, ErrTimeout) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
