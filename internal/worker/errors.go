package worker

import "errors"

// ErrPermanent marks failures a retry cannot fix, such as a payload that does
// not parse. Such deliveries go straight to the DLQ.
var ErrPermanent = errors.New("permanent failure")

type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }

func (e *permanentError) Unwrap() []error { return []error{e.err, ErrPermanent} }

func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}
