package binance

import (
	"errors"
	"fmt"
)

// Binance API error codes the retry policy classifies on.
const (
	codeServerUnknown     = -1000
	codeServerDisconnect  = -1001
	codeTooManyRequests   = -1003
	codeTimestampSkew     = -1021
	codeInvalidParameters = -1013
	codeUnknownOrder      = -2011
	codeOrderNotFound     = -2013
	codeInsufficientFunds = -2010
)

// APIError is a structured error response from the exchange.
type APIError struct {
	Status  int    `json:"-"`
	Code    int    `json:"code"`
	Message string `json:"msg"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("binance api error [%d] (http %d): %s", e.Code, e.Status, e.Message)
}

// IsClockSkew reports whether the error means the local clock drifted outside
// the exchange's recv window. Recoverable by resyncing the time offset.
func IsClockSkew(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Code == codeTimestampSkew
}

// IsRateLimit reports whether the exchange asked us to back off.
func IsRateLimit(err error) bool {
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	return apiErr.Code == codeTooManyRequests || apiErr.Status == 429 || apiErr.Status == 418
}

// IsTransient reports whether the failure is a server fault worth retrying
// with backoff.
func IsTransient(err error) bool {
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		// Network-level failures carry no API payload.
		return true
	}
	return apiErr.Status >= 500 || apiErr.Code == codeServerUnknown || apiErr.Code == codeServerDisconnect
}

// IsUnknownOrder reports whether the exchange no longer recognizes the
// requested order or order group. Monitoring treats this as "already
// resolved" and falls back to the history scan.
func IsUnknownOrder(err error) bool {
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	return apiErr.Code == codeUnknownOrder || apiErr.Code == codeOrderNotFound
}

// IsNonRetryable reports whether retrying cannot help: insufficient funds,
// rejected parameters, and other business rejections.
func IsNonRetryable(err error) bool {
	return !IsClockSkew(err) && !IsRateLimit(err) && !IsTransient(err)
}
