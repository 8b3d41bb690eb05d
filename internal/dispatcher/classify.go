package dispatcher

import (
	"context"
	"errors"
	"net"
	"syscall"
)

// Classify maps a transport error to a FailureKind. parent is the run's
// context: an error caused by its cancellation is FailureCanceled rather than
// a request failure.
func Classify(parent context.Context, err error) FailureKind {
	if err == nil {
		return FailureNone
	}
	if parent != nil && errors.Is(parent.Err(), context.Canceled) {
		return FailureCanceled
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return FailureTimeout
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		if dnsErr.IsTimeout {
			return FailureTimeout
		}
		return FailureDNS
	}
	if errors.Is(err, syscall.ECONNREFUSED) {
		return FailureConnRefused
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return FailureTimeout
	}
	return FailureNetwork
}
