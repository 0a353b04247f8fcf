// Package apperrors defines the application error interface used across the
// fleet server. Errors form a hierarchy: a sentinel error created with New is
// the base, and derived errors created with base.New share identity with the
// base for errors.Is checks while carrying their own message and HTTP status.
package apperrors

type Error interface {
	Error() string
	ErrorAll() string
	New(msg string) Error
	Msg(msg string) Error
	MsgErr(msg string, err ...error) Error
	Err(err ...error) Error
	Unwrap() []error
	Is(target error) bool
	SetExpandError(expand bool) Error
	SetStatusCode(code int) Error
	StatusCode() int
}
