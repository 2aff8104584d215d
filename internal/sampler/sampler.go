package sampler

import (
	"context"
	"fmt"
	"time"

	"github.com/example/delivery-tracking/internal/models"
)

// Code classifies location-provider failures.
type Code int

const (
	CodePermissionDenied Code = iota + 1
	CodePositionUnavailable
	CodeTimeout
	CodeUnsupported
)

func (c Code) String() string {
	switch c {
	case CodePermissionDenied:
		return "permission_denied"
	case CodePositionUnavailable:
		return "position_unavailable"
	case CodeTimeout:
		return "timeout"
	case CodeUnsupported:
		return "unsupported"
	default:
		return "unknown"
	}
}

// Error is a typed sampler failure. Unsupported is fatal for a session; the
// other codes are retryable by the caller's policy.
type Error struct {
	Code Code
	Msg  string
}

func (e *Error) Error() string {
	if e.Msg == "" {
		return fmt.Sprintf("sampler: %s", e.Code)
	}
	return fmt.Sprintf("sampler: %s: %s", e.Code, e.Msg)
}

func (e *Error) Retryable() bool { return e.Code != CodeUnsupported }

func Errorf(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Msg: fmt.Sprintf(format, args...)}
}

// Acquisition knobs mirrored from the device-location contract: single-shot
// reads force a fresh fix within 5s, continuous watches allow up to 15s per
// update with no age cap.
const (
	SingleShotTimeout = 5 * time.Second
	WatchTimeout      = 15 * time.Second
)

// Sampler is the device-location capability consumed by the tracker. It
// abstracts whatever platform API actually produces fixes.
type Sampler interface {
	// SampleOnce returns a single fresh high-accuracy fix.
	SampleOnce(ctx context.Context) (models.PositionSample, error)

	// Watch starts continuous delivery. Samples and errors arrive on the
	// given callbacks until the subscription is cancelled; individual errors
	// do not stop the watch. A nil error return guarantees a live handle.
	Watch(onSample func(models.PositionSample), onError func(error)) (Subscription, error)
}

// Subscription releases the underlying watch handle. Cancel is idempotent
// and must always be called on session teardown; a leaked handle is a
// defect.
type Subscription interface {
	Cancel()
}
