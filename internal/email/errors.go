package email

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidArgument is returned when a builder operation receives a value
	// it cannot accept. The Message is left unchanged.
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrUnsupportedProtocol is returned when an adapter is asked to use a
	// transport protocol it does not recognize.
	ErrUnsupportedProtocol = errors.New("unsupported protocol")

	// ErrFileNotFound is returned when an attachment path does not resolve to
	// a regular file.
	ErrFileNotFound = errors.New("file not found")

	// ErrTransportFailure marks a failure reported by the underlying transport.
	ErrTransportFailure = errors.New("transport failure")
)

// TransportError carries the error info reported by a transport after a
// rejected or failed send. It matches ErrTransportFailure with errors.Is.
type TransportError struct {
	Info string
	Err  error
}

func (e *TransportError) Error() string {
	if e.Info == "" {
		return ErrTransportFailure.Error()
	}
	return fmt.Sprintf("%s: %s", ErrTransportFailure, e.Info)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

func (e *TransportError) Is(target error) bool {
	return target == ErrTransportFailure
}

// NewTransportError wraps err as a TransportError using its message as info.
func NewTransportError(err error) *TransportError {
	if err == nil {
		return &TransportError{}
	}
	return &TransportError{Info: err.Error(), Err: err}
}

func invalidArgument(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidArgument, fmt.Sprintf(format, args...))
}
