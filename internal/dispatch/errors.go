package dispatch

import (
	"errors"

	"taxidispatch/internal/geo"
)

var (
	ErrActiveRideExists   = errors.New("client already has an active ride")
	ErrRideNotPending     = errors.New("ride is not awaiting this driver")
	ErrDriverNotAvailable = errors.New("driver is not available")
	ErrDriverNotFound     = errors.New("driver not found")
	ErrRideNotFound       = errors.New("ride not found")
	ErrIllegalTransition  = errors.New("illegal ride status transition")
	ErrAccessDenied       = errors.New("access denied")
	ErrNoDriverAvailable  = errors.New("no driver available")
	ErrDriverBusy         = errors.New("driver has an active ride")
	ErrInvalidPayment     = errors.New("invalid payment method")
	ErrEmptyMessage       = errors.New("message text is empty")

	ErrInvalidRideClass  = geo.ErrInvalidRideClass
	ErrInvalidCoordinate = geo.ErrInvalidCoordinate
)
