package httpx

import (
	"encoding/json"
	"net/http"

	"github.com/pressfleet/pressfleet/internal/common/apperrors"
)

type Error struct {
	Description string `json:"description"`
	StatusCode  int    `json:"http_status_code"`
}

type errorRsp struct {
	Result int    `json:"result"`
	Error  string `json:"error"`
}

const Failure int = 0

func (e *Error) Send(w http.ResponseWriter) {
	if w == nil {
		return
	}
	rsp := &errorRsp{
		Result: Failure,
		Error:  e.Description,
	}
	rspJson, err := json.Marshal(rsp)
	if err != nil {
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte("unable to encode error"))
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(e.StatusCode)
	w.Write(rspJson)
}

func (e *Error) Error() string {
	return e.Description
}

func (current Error) Is(other error) bool {
	return current.Error() == other.Error()
}

func SendError(w http.ResponseWriter, err apperrors.Error) {
	if err == nil {
		return
	}
	statusCode := err.StatusCode()
	if statusCode == 0 {
		statusCode = http.StatusInternalServerError
	}
	httperror := &Error{
		StatusCode:  statusCode,
		Description: err.ErrorAll(),
	}
	httperror.Send(w)
}

// Common errors

func ErrReqMethodNotSupported() *Error {
	return &Error{
		Description: "request method not supported",
		StatusCode:  http.StatusMethodNotAllowed,
	}
}

func ErrUnableToParseReqData() *Error {
	return &Error{
		Description: "unable to parse request",
		StatusCode:  http.StatusBadRequest,
	}
}

func ErrUnableToReadRequest() *Error {
	return &Error{
		Description: "unable to read request",
		StatusCode:  http.StatusBadRequest,
	}
}

func ErrApplicationError(err ...string) *Error {
	s := "unable to process request"
	if len(err) > 0 {
		s = err[0]
	}
	return &Error{
		Description: s,
		StatusCode:  http.StatusInternalServerError,
	}
}

func ErrInvalidRequest(str ...string) *Error {
	s := "empty request values or invalid request"
	if len(str) > 0 {
		s = str[0]
	}
	return &Error{
		Description: s,
		StatusCode:  http.StatusBadRequest,
	}
}

func ErrInvalidTenantId() *Error {
	return &Error{
		Description: "empty or invalid tenant id",
		StatusCode:  http.StatusBadRequest,
	}
}

func ErrInvalidShardId() *Error {
	return &Error{
		Description: "empty or invalid shard id",
		StatusCode:  http.StatusBadRequest,
	}
}

func ErrNotFound(str ...string) *Error {
	s := "resource not found"
	if len(str) > 0 {
		s = str[0]
	}
	return &Error{
		Description: s,
		StatusCode:  http.StatusNotFound,
	}
}
