package pkg

import "errors"

// Configuration errors.
var (
	// ErrMissingConfig indicates a required configuration item is absent.
	ErrMissingConfig = errors.New("missing configuration")

	// ErrInvalidParameter indicates an invalid parameter was provided.
	ErrInvalidParameter = errors.New("invalid parameter")
)

// Resource acquisition errors. Each names one acquisition failure class so
// callers can tell them apart with errors.Is.
var (
	// ErrLineUnavailable indicates an I/O line is invalid or already claimed.
	ErrLineUnavailable = errors.New("I/O line unavailable")

	// ErrIRQUnavailable indicates edge interrupt registration failed.
	ErrIRQUnavailable = errors.New("interrupt registration failed")

	// ErrRegulatorNotFound indicates the named supply does not exist.
	ErrRegulatorNotFound = errors.New("regulator not found")

	// ErrVoltageRejected indicates the regulator cannot reach the requested voltage.
	ErrVoltageRejected = errors.New("target voltage unachievable")

	// ErrRegulatorEnable indicates the regulator refused to turn on.
	ErrRegulatorEnable = errors.New("regulator enable failed")

	// ErrClockUnavailable indicates the clock source could not be obtained or enabled.
	ErrClockUnavailable = errors.New("clock source unavailable")
)

// Steady-state errors. None of these is fatal to a controller instance.
var (
	// ErrClockUnstable indicates the internal clock never reported stable.
	ErrClockUnstable = errors.New("internal clock never stabilised")

	// ErrNoWriteProtect indicates no write-protect line is bound.
	ErrNoWriteProtect = errors.New("no write-protect line")

	// ErrNotSupported indicates an unsupported operation or feature.
	ErrNotSupported = errors.New("not supported")

	// ErrClosed indicates the controller has been released.
	ErrClosed = errors.New("controller released")
)
