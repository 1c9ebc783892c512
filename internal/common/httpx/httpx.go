// Package httpx provides shared HTTP response helpers for the charter server:
// JSON responders, error envelopes, and a write-tracking ResponseWriter used
// by the panic-recovery middleware.
package httpx

import (
	"context"
	"net/http"

	jsoniter "github.com/json-iterator/go"
	"github.com/rs/zerolog/log"

	"github.com/charterhq/charter/internal/common/apperrors"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// SendJsonRsp writes msg as a JSON response with the given status code.
// Strings and byte slices containing valid JSON pass through unmarshaled;
// everything else is marshaled.
func SendJsonRsp(ctx context.Context, w http.ResponseWriter, statusCode int, msg any) {
	var body []byte
	switch v := msg.(type) {
	case string:
		if json.Valid([]byte(v)) {
			body = []byte(v)
		}
	case []byte:
		if json.Valid(v) {
			body = v
		}
	default:
		var err error
		body, err = json.Marshal(msg)
		if err != nil {
			log.Ctx(ctx).Err(err).Msg("unable to marshal json response")
			ErrApplicationError("unable to encode response").Send(w)
			return
		}
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	w.Write(body)
}

// Error represents an HTTP error response with status code and description.
type Error struct {
	Description string `json:"error"`
	StatusCode  int    `json:"http_status_code"`
}

// Send writes the error response to the provided ResponseWriter.
func (e *Error) Send(w http.ResponseWriter) {
	if w == nil {
		return
	}
	body, err := json.Marshal(map[string]string{"error": e.Description})
	if err != nil {
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte("unable to encode error"))
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(e.StatusCode)
	w.Write(body)
}

// Error returns the error description.
func (e *Error) Error() string {
	return e.Description
}

// SendError sends an application error as an HTTP error response. A zero
// status code maps to 500.
func SendError(w http.ResponseWriter, err apperrors.Error) {
	if err == nil {
		return
	}
	statusCode := err.StatusCode()
	if statusCode == 0 {
		statusCode = http.StatusInternalServerError
	}
	(&Error{StatusCode: statusCode, Description: err.ErrorAll()}).Send(w)
}

// ErrApplicationError returns a generic 500 error with the given description.
func ErrApplicationError(desc string) *Error {
	return &Error{Description: desc, StatusCode: http.StatusInternalServerError}
}

// ErrUnauthorized returns a 401 error with the given description.
func ErrUnauthorized(desc string) *Error {
	return &Error{Description: desc, StatusCode: http.StatusUnauthorized}
}

// ErrInvalidRequest returns a 400 error with the given description.
func ErrInvalidRequest(desc string) *Error {
	return &Error{Description: desc, StatusCode: http.StatusBadRequest}
}
