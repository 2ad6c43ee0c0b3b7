package retry

import (
	"context"
	"errors"
	"net"
	"strings"
	"time"
)

// backoffIntervals описывает интервалы ожидания между повторными попытками.
var backoffIntervals = []time.Duration{1 * time.Second, 3 * time.Second, 5 * time.Second}

// IsRetriableNetError reports whether err is a network error worth another attempt.
func IsRetriableNetError(err error) bool {
	var netErr net.Error
	if !errors.As(err, &netErr) {
		return false
	}
	if netErr.Timeout() {
		return true
	}
	lowerMsg := strings.ToLower(err.Error())
	if strings.Contains(lowerMsg, "connection refused") ||
		strings.Contains(lowerMsg, "connection reset") ||
		strings.Contains(lowerMsg, "network is unreachable") ||
		strings.Contains(lowerMsg, "no such host") {
		return true
	}
	return false
}

// DoWithRetry calls fn up to len(backoffIntervals)+1 times while it keeps
// failing with a retriable network error. Cancelling ctx stops the wait
// between attempts and returns the last error.
func DoWithRetry(ctx context.Context, fn func() error) error {
	var lastErr error
	for i := 0; i <= len(backoffIntervals); i++ {
		err := fn()
		if err == nil {
			return nil
		}
		lastErr = err

		if !IsRetriableNetError(err) {
			return err
		}

		if i < len(backoffIntervals) {
			timer := time.NewTimer(backoffIntervals[i])
			select {
			case <-ctx.Done():
				timer.Stop()
				return lastErr
			case <-timer.C:
			}
		}
	}

	return lastErr
}
