package signaling

import (
	"errors"
	"fmt"
)

// TransportError wraps a network or HTTP-level failure. It aborts the
// current negotiation attempt; nothing in this client retries.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("signaling transport error in %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// ProtocolError means the backend answered but the response was malformed
// or missing required fields.
type ProtocolError struct {
	Op      string
	Message string
	Err     error
}

func (e *ProtocolError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("signaling protocol error in %s: %s: %v", e.Op, e.Message, e.Err)
	}
	return fmt.Sprintf("signaling protocol error in %s: %s", e.Op, e.Message)
}

func (e *ProtocolError) Unwrap() error { return e.Err }

// IsTransport reports whether err is (or wraps) a TransportError.
func IsTransport(err error) bool {
	var te *TransportError
	return errors.As(err, &te)
}

// IsProtocol reports whether err is (or wraps) a ProtocolError.
func IsProtocol(err error) bool {
	var pe *ProtocolError
	return errors.As(err, &pe)
}
