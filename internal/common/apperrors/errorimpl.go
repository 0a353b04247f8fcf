package apperrors

type appError struct {
	msg           string
	base          Error
	wrappedErrors []error
	statuscode    int
	expandError   bool
}

// New creates a new base error. Use the returned value as a sentinel and
// derive request-scoped errors from it with Error.New.
func New(msg string) Error {
	return &appError{msg: msg}
}

func (e *appError) Error() string {
	return e.msg
}

// ErrorAll renders the message along with wrapped causes when expansion is
// enabled. Sentinels keep expansion off so internal causes don't leak to API
// responses unless a call site opts in.
func (e *appError) ErrorAll() string {
	if !e.expandError || len(e.wrappedErrors) == 0 {
		return e.msg
	}
	msg := e.msg + ": "
	for i, err := range e.wrappedErrors {
		if i > 0 {
			msg += "; "
		}
		msg += err.Error()
	}
	return msg
}

func (e *appError) New(msg string) Error {
	return &appError{
		msg:        msg,
		statuscode: e.statuscode,
		base:       e,
	}
}

func (e *appError) Msg(msg string) Error {
	e.msg = msg
	return e
}

func (e *appError) MsgErr(msg string, err ...error) Error {
	e.msg = msg
	e.wrappedErrors = append(e.wrappedErrors, err...)
	return e
}

func (e *appError) Err(err ...error) Error {
	e.wrappedErrors = append(e.wrappedErrors, err...)
	return e
}

func (e *appError) Unwrap() []error {
	return e.wrappedErrors
}

func (e *appError) Is(target error) bool {
	if e == target || e.base == target {
		return true
	}
	if e.base != nil && e.base.Is(target) {
		return true
	}
	for _, err := range e.wrappedErrors {
		if err == target {
			return true
		}
	}
	return false
}

func (e *appError) SetExpandError(expand bool) Error {
	e.expandError = expand
	return e
}

func (e *appError) SetStatusCode(code int) Error {
	e.statuscode = code
	return e
}

func (e *appError) StatusCode() int {
	return e.statuscode
}
