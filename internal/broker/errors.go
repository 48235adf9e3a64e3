package broker

import (
	"errors"
	"fmt"
)

// ErrOrderNotFound is returned for unknown order IDs.
var ErrOrderNotFound = errors.New("order not found")

// ConnectionError means the gateway could not be reached. The tick that saw
// it is abandoned and retried on the next tick.
type ConnectionError struct {
	Err error
	Op  string
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("broker %s: connection lost: %v", e.Op, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// Temporary marks connection loss as retryable
func (e *ConnectionError) Temporary() bool { return true }

// RejectionError means the broker refused an order.
type RejectionError struct {
	OrderID string
	Reason  string
}

func (e *RejectionError) Error() string {
	if e.OrderID == "" {
		return fmt.Sprintf("order rejected: %s", e.Reason)
	}
	return fmt.Sprintf("order %s rejected: %s", e.OrderID, e.Reason)
}

// Temporary marks rejections as permanent
func (e *RejectionError) Temporary() bool { return false }

// IsConnectionError reports whether err wraps a ConnectionError
func IsConnectionError(err error) bool {
	var ce *ConnectionError
	return errors.As(err, &ce)
}

// IsRejection reports whether err wraps a RejectionError
func IsRejection(err error) bool {
	var re *RejectionError
	return errors.As(err, &re)
}
