package chat

import "fmt"

// TransportError reports a failed call to the transport. The turn that hit
// it is abandoned as-is; nothing is retried.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

func transportError(op string, err error) error {
	return &TransportError{Op: op, Err: err}
}
