package twitter

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	gotwitter "github.com/g8rswimmer/go-twitter/v2"

	"rosebud-x-bot/internal/bot"
)

// Kind classifies X API failures
type Kind string

const (
	KindRateLimited Kind = "rate_limited"
	KindAuth        Kind = "auth"
	KindNotFound    Kind = "not_found"
	KindOther       Kind = "other"
)

// APIError is a classified X API failure
type APIError struct {
	Op         string
	Kind       Kind
	StatusCode int
	Reset      time.Time
	Err        error
}

func (e *APIError) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Op, e.Kind)
	if e.StatusCode != 0 {
		msg += fmt.Sprintf(" (status %d)", e.StatusCode)
	}
	if !e.Reset.IsZero() {
		msg += " until " + e.Reset.UTC().Format(time.RFC3339)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap exposes both the matching bot sentinel and the cause
func (e *APIError) Unwrap() []error {
	var errs []error
	if e.Err != nil {
		errs = append(errs, e.Err)
	}
	switch e.Kind {
	case KindRateLimited:
		errs = append(errs, bot.ErrRateLimited)
	case KindAuth:
		errs = append(errs, bot.ErrUnauthorized)
	case KindNotFound:
		errs = append(errs, bot.ErrNotFound)
	}
	return errs
}

// ResetTime returns when a rate limit lifts, zero when unknown
func (e *APIError) ResetTime() time.Time {
	return e.Reset
}

// classifyError maps go-twitter errors onto APIError kinds
func classifyError(op string, err error) error {
	if err == nil {
		return nil
	}

	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return err
	}

	classified := &APIError{Op: op, Kind: KindOther, Err: err}

	var rateLimit *gotwitter.RateLimit
	var errResp *gotwitter.ErrorResponse
	var httpErr *gotwitter.HTTPError
	switch {
	case errors.As(err, &errResp):
		classified.StatusCode = errResp.StatusCode
		rateLimit = errResp.RateLimit
	case errors.As(err, &httpErr):
		classified.StatusCode = httpErr.StatusCode
		rateLimit = httpErr.RateLimit
	}

	switch classified.StatusCode {
	case http.StatusTooManyRequests:
		classified.Kind = KindRateLimited
		if rateLimit != nil && rateLimit.Reset > 0 {
			classified.Reset = rateLimit.Reset.Time()
		}
	case http.StatusUnauthorized, http.StatusForbidden:
		classified.Kind = KindAuth
	case http.StatusNotFound:
		classified.Kind = KindNotFound
	}

	return classified
}

// notFound builds an APIError for empty lookups that the API reports as success
func notFound(op, id string) error {
	return &APIError{Op: op, Kind: KindNotFound, Err: fmt.Errorf("post %s not found", id)}
}
