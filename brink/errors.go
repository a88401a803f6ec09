package brink

import (
	"errors"
	"fmt"
)

var (
	ErrTimeout            = errors.New("brink: request timed out")
	ErrUnexpectedResponse = errors.New("brink: unexpected response shape")
)

// StatusError is returned for any non-2xx response from the portal.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("brink: api error %d", e.StatusCode)
	}
	return fmt.Sprintf("brink: api error %d: %s", e.StatusCode, e.Body)
}

func IsTimeout(err error) bool {
	return errors.Is(err, ErrTimeout)
}

// IsStatus reports whether err is a StatusError with the given code.
func IsStatus(err error, code int) bool {
	var statusErr *StatusError
	return errors.As(err, &statusErr) && statusErr.StatusCode == code
}
