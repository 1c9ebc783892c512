package registry

import (
	"net/http"

	"github.com/charterhq/charter/internal/common/apperrors"
)

var (
	// ErrRegistryError is the base error for all session registry errors.
	ErrRegistryError apperrors.Error = apperrors.New("error in session registry").SetStatusCode(http.StatusInternalServerError)

	// ErrSessionNotFound is returned when a session id does not exist.
	ErrSessionNotFound apperrors.Error = ErrRegistryError.New("session not found").SetStatusCode(http.StatusNotFound)

	// ErrResourceExhausted is returned when admission control rejects a
	// create: either the session count limit or the memory ceiling would be
	// exceeded. No session object is constructed in this case.
	ErrResourceExhausted apperrors.Error = ErrRegistryError.New("resource limit exceeded").SetStatusCode(http.StatusTooManyRequests)

	// ErrSessionBusy is returned when a close is refused because the
	// session still has in-flight operations.
	ErrSessionBusy apperrors.Error = ErrRegistryError.New("session has active operations").SetStatusCode(http.StatusConflict)

	// ErrBackendFailure is returned when the render backend cannot create
	// or destroy a session.
	ErrBackendFailure apperrors.Error = ErrRegistryError.New("render backend failure").SetStatusCode(http.StatusInternalServerError)
)
