// Package apperrors provides the error type used across charter services. It
// extends the standard error interface with wrapping, HTTP status codes, and
// message derivation so that packages can declare sentinel errors and refine
// them at call sites without losing errors.Is compatibility.
package apperrors

// Error is the interface implemented by all charter application errors.
// Methods that produce a new message return a fresh Error wrapping the
// original, so sentinels declared at package level are never mutated.
type Error interface {
	error
	Unwrap() error // supports errors.Is / errors.As

	New(msg string) Error                  // fresh error using the current one as template
	Msg(msg string) Error                  // new error with message, wrapping the original
	MsgErr(msg string, err ...error) Error // new error with message, wrapping extra errors
	Err(err ...error) Error                // attaches additional errors, keeping the message
	SetStatusCode(int) Error               // sets the HTTP status code
	StatusCode() int                       // returns the HTTP status code
	ErrorAll() string                      // message including all wrapped errors
	UnwrapAll() []error                    // all wrapped errors in attach order
}
