package dispatch

import (
	"net/http"

	"github.com/charterhq/charter/internal/common/apperrors"
)

var (
	// ErrDispatchError is the base for all dispatch errors.
	ErrDispatchError apperrors.Error = apperrors.New("dispatch error").SetStatusCode(http.StatusInternalServerError)

	// ErrMalformedRequest covers requests that cannot be parsed into a command.
	ErrMalformedRequest apperrors.Error = ErrDispatchError.New("malformed request").SetStatusCode(http.StatusBadRequest)

	// ErrUnknownMethod covers requests naming a method that is not in the table.
	ErrUnknownMethod apperrors.Error = ErrDispatchError.New("unknown method").SetStatusCode(http.StatusBadRequest)

	// ErrInvalidParams covers requests whose parameters fail decoding or validation.
	ErrInvalidParams apperrors.Error = ErrDispatchError.New("invalid parameters").SetStatusCode(http.StatusBadRequest)

	// ErrShuttingDown is returned for commands submitted after shutdown began.
	ErrShuttingDown apperrors.Error = ErrDispatchError.New("dispatcher is shutting down").SetStatusCode(http.StatusServiceUnavailable)
)
