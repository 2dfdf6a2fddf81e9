package client

import (
	"context"
	"errors"
	"fmt"

	"github.com/Sternrassler/market-price-cache/pkg/quote"
)

// Common errors returned by the client.
var (
	// ErrRateLimited is returned for HTTP 429 responses.
	ErrRateLimited = errors.New("rate limited by pricing API")

	// ErrGatewayTimeout is returned when the body is the gateway timeout sentinel.
	ErrGatewayTimeout = errors.New("pricing API gateway timeout")

	// ErrParse is returned when the body cannot be decoded into quotes.
	ErrParse = errors.New("unparseable pricing response")

	// ErrCancelled is returned when the request context was cancelled.
	ErrCancelled = errors.New("request cancelled")

	// ErrRetryExhausted wraps the last error of a batch dropped after its
	// final attempt.
	ErrRetryExhausted = errors.New("retry attempts exhausted")
)

// ErrorClass represents a classification of pricing API failures.
type ErrorClass string

const (
	// ErrorClassRateLimit represents 429 Too Many Requests.
	ErrorClassRateLimit ErrorClass = "rate_limit"

	// ErrorClassGatewayTimeout represents the plain-text gateway timeout body.
	ErrorClassGatewayTimeout ErrorClass = "gateway_timeout"

	// ErrorClassParse represents a malformed or unexpected JSON body.
	ErrorClassParse ErrorClass = "parse"

	// ErrorClassServer represents other 5xx responses.
	ErrorClassServer ErrorClass = "server"

	// ErrorClassClient represents 4xx responses other than 429.
	ErrorClassClient ErrorClass = "client"

	// ErrorClassNetwork represents transport errors.
	ErrorClassNetwork ErrorClass = "network"

	// ErrorClassCancelled represents context cancellation.
	ErrorClassCancelled ErrorClass = "cancelled"
)

// APIError represents a pricing API failure with additional context.
type APIError struct {
	StatusCode int
	ErrorClass ErrorClass
	Message    string
	Err        error
}

// Error implements the error interface.
func (e *APIError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("universalis %s error (status %d): %s: %v",
			e.ErrorClass, e.StatusCode, e.Message, e.Err)
	}
	return fmt.Sprintf("universalis %s error (status %d): %s",
		e.ErrorClass, e.StatusCode, e.Message)
}

// Unwrap implements error unwrapping for errors.Is/As.
func (e *APIError) Unwrap() error {
	return e.Err
}

// Classify returns the class of an error produced by the client.
// A nil error has an empty class.
func Classify(err error) ErrorClass {
	if err == nil {
		return ""
	}

	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.ErrorClass
	}

	switch {
	case errors.Is(err, ErrCancelled), errors.Is(err, context.Canceled):
		return ErrorClassCancelled
	case errors.Is(err, ErrRateLimited):
		return ErrorClassRateLimit
	case errors.Is(err, ErrGatewayTimeout):
		return ErrorClassGatewayTimeout
	case errors.Is(err, ErrParse), errors.Is(err, quote.ErrMalformedResponse):
		return ErrorClassParse
	default:
		return ErrorClassNetwork
	}
}

// shouldRetry determines if a failure class is re-dispatched.
func shouldRetry(errorClass ErrorClass) bool {
	switch errorClass {
	case ErrorClassRateLimit, ErrorClassGatewayTimeout:
		return true
	case ErrorClassServer, ErrorClassNetwork:
		// same policy as a gateway timeout
		return true
	case ErrorClassParse:
		// dropped, never re-dispatched
		return false
	default:
		return false
	}
}
