package kmyth

import (
	"context"
	"time"

	"golang.org/x/xerrors"
)

// retryPolicy bounds the retry-class handling described in spec.md section
// 4.6 ("Failure semantics"): RC_RETRY/RC_YIELDED/RC_TESTING may be retried
// up to a small bounded count with a short back-off.
type retryPolicy struct {
	maxAttempts int
	backoff     time.Duration
}

var defaultRetryPolicy = retryPolicy{maxAttempts: 3, backoff: 10 * time.Millisecond}

// withRetry runs fn, retrying while it returns an *Error of kind
// KindTpmRetry, up to p.maxAttempts total attempts with a back-off between
// them that grows with each attempt. Any other error, or success, returns immediately.
func withRetry(ctx context.Context, p retryPolicy, fn func(attempt int) (ResponseCode, []byte, error)) (ResponseCode, []byte, error) {
	var lastErr error
	for attempt := 1; attempt <= p.maxAttempts; attempt++ {
		rc, out, err := fn(attempt)
		if err == nil {
			return rc, out, nil
		}
		var kerr *Error
		if !xerrors.As(err, &kerr) || kerr.Kind != KindTpmRetry {
			return rc, out, err
		}
		lastErr = err
		if attempt == p.maxAttempts {
			break
		}
		select {
		case <-ctx.Done():
			return rc, out, wrapError(KindTransportTimeout, "context cancelled during retry back-off", ctx.Err())
		case <-time.After(jitter(p.backoff, attempt)):
		}
	}
	return 0, nil, lastErr
}

// jitter lengthens each successive back-off by a quarter of base. It is
// deterministic: sessions at the same attempt number wait the same time.
func jitter(base time.Duration, attempt int) time.Duration {
	return base + time.Duration(attempt)*(base/4)
}
