package httpx

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/rs/zerolog/log"
	"github.com/pressfleet/pressfleet/internal/common/apperrors"
)

// GetRequestData decodes the JSON body of a mutating request into data.
func GetRequestData(r *http.Request, data any) error {
	if r.Method != http.MethodPost && r.Method != http.MethodPut {
		return ErrReqMethodNotSupported()
	}
	if r.Body == nil {
		log.Ctx(r.Context()).Error().Msg("empty request body")
		return ErrUnableToParseReqData()
	}
	if err := json.NewDecoder(r.Body).Decode(data); err != nil {
		return ErrUnableToParseReqData()
	}
	return nil
}

type Response struct {
	StatusCode  int
	Location    string // set for http.StatusAccepted and http.StatusCreated
	Response    any
	ContentType string
}

type RequestHandler func(r *http.Request) (*Response, error)

// WrapHttpRsp adapts a RequestHandler into an http.HandlerFunc, translating
// apperrors and httpx errors into JSON error responses.
func WrapHttpRsp(handler RequestHandler) http.HandlerFunc {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rsp, err := handler(r)
		if err != nil {
			if httperror, ok := err.(*Error); ok {
				httperror.Send(w)
			} else if appErr, ok := err.(apperrors.Error); ok {
				SendError(w, appErr)
			} else {
				ErrApplicationError(err.Error()).Send(w)
			}
			return
		}
		if rsp == nil {
			ErrApplicationError().Send(w)
			return
		}
		if rsp.ContentType == "" {
			rsp.ContentType = "application/json"
		}
		var location []string
		if rsp.Location != "" {
			location = append(location, rsp.Location)
		}
		if rsp.ContentType == "application/json" {
			SendJsonRsp(r.Context(), w, rsp.StatusCode, rsp.Response, location...)
		} else {
			ErrApplicationError("unsupported response type").Send(w)
		}
	})
}

// SendJsonRsp writes rsp as JSON with the given status code. An optional
// location is set as the Location header.
func SendJsonRsp(ctx context.Context, w http.ResponseWriter, statusCode int, rsp any, location ...string) {
	w.Header().Set("Content-Type", "application/json")
	if len(location) > 0 {
		w.Header().Set("Location", location[0])
	}
	w.WriteHeader(statusCode)
	if rsp == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(rsp); err != nil {
		log.Ctx(ctx).Error().Err(err).Msg("unable to encode response")
	}
}

type ResponseHandlerParam struct {
	Method  string
	Path    string
	Handler RequestHandler
}
