package api

import (
	"errors"
	"net/http"

	"taxidispatch/internal/auth"
	"taxidispatch/internal/dispatch"
)

var errorCodes = []struct {
	err    error
	status int
	code   string
}{
	{dispatch.ErrActiveRideExists, http.StatusConflict, "ACTIVE_RIDE_EXISTS"},
	{dispatch.ErrRideNotPending, http.StatusConflict, "RIDE_NOT_PENDING"},
	{dispatch.ErrDriverNotAvailable, http.StatusConflict, "DRIVER_NOT_AVAILABLE"},
	{dispatch.ErrDriverNotFound, http.StatusNotFound, "DRIVER_NOT_FOUND"},
	{dispatch.ErrRideNotFound, http.StatusNotFound, "RIDE_NOT_FOUND"},
	{dispatch.ErrIllegalTransition, http.StatusConflict, "ILLEGAL_TRANSITION"},
	{dispatch.ErrAccessDenied, http.StatusForbidden, "ACCESS_DENIED"},
	{dispatch.ErrNoDriverAvailable, http.StatusNotFound, "NO_DRIVER_AVAILABLE"},
	{dispatch.ErrInvalidRideClass, http.StatusBadRequest, "INVALID_RIDE_CLASS"},
	{dispatch.ErrDriverBusy, http.StatusConflict, "DRIVER_BUSY"},
	{dispatch.ErrInvalidCoordinate, http.StatusBadRequest, "INVALID_COORDINATE"},
	{dispatch.ErrInvalidPayment, http.StatusBadRequest, "INVALID_PAYMENT_METHOD"},
	{dispatch.ErrEmptyMessage, http.StatusBadRequest, "EMPTY_MESSAGE"},
	{auth.ErrUserExists, http.StatusConflict, "USER_EXISTS"},
}

// errorStatus maps a domain error to its HTTP status and stable code.
func errorStatus(err error) (int, string) {
	for _, c := range errorCodes {
		if errors.Is(err, c.err) {
			return c.status, c.code
		}
	}
	return http.StatusInternalServerError, "INTERNAL_SERVER_ERROR"
}

func (h *Handler) respondErr(w http.ResponseWriter, r *http.Request, err error) {
	status, code := errorStatus(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		h.log.Error("request failed", "path", r.URL.Path, "error", err)
		msg = "internal server error"
	}
	respondError(w, status, code, msg)
}
