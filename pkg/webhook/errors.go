package webhook

import "errors"

var (
	// ErrDeliveryFailed wraps the last attempt's error once the attempt
	// budget is spent. Callers running inside a queue job usually let the
	// job's own retry policy take over from here.
	ErrDeliveryFailed = errors.New("webhook delivery failed")

	// ErrPermanentFailure marks a delivery the endpoint rejected outright
	// (most 4xx responses). Retrying would repeat the same rejection.
	ErrPermanentFailure = errors.New("webhook permanently rejected")

	// ErrInvalidURL is returned before any network activity when the
	// destination is not an absolute http(s) URL.
	ErrInvalidURL = errors.New("invalid webhook url")

	// ErrEndpointSuspended is returned without sending when the endpoint's
	// recent failures tripped the breaker. The suspension lifts on its own
	// after the probe window.
	ErrEndpointSuspended = errors.New("webhook endpoint suspended")

	// ErrBadSignature is returned by Verify for missing, malformed, or
	// mismatched signatures.
	ErrBadSignature = errors.New("webhook signature invalid")

	// ErrStaleSignature is returned by Verify when the signed timestamp
	// falls outside the allowed skew window.
	ErrStaleSignature = errors.New("webhook signature expired")
)
