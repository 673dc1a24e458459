package chatapi

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	ErrAuth  = errors.New("unable to fetch token")
	ErrList  = errors.New("unable to fetch conversations")
	ErrFetch = errors.New("unable to fetch conversation")

	// ErrUnauthorized marks a 401 response; the stored credential is stale.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrRateLimited marks a 429 response.
	ErrRateLimited = errors.New("rate limited")
)

// StatusError is a non-2xx response from the chat service. It matches its
// operation sentinel and, for 401/429, ErrUnauthorized/ErrRateLimited.
type StatusError struct {
	Op         error
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%v: status %d", e.Op, e.StatusCode)
}

func (e *StatusError) Unwrap() []error {
	errs := []error{e.Op}
	switch e.StatusCode {
	case http.StatusUnauthorized:
		errs = append(errs, ErrUnauthorized)
	case http.StatusTooManyRequests:
		errs = append(errs, ErrRateLimited)
	}
	return errs
}
