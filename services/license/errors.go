package license

import (
	"errors"

	"ristosmart-license/pkg/errutil"
)

var (
	ErrNotFound = errutil.BaseError{
		Code: errutil.StatusNotFound, Reason: "not_found",
		Message: "license not found",
	}
	ErrExpired = errutil.BaseError{
		Code: errutil.StatusForbidden, Reason: "expired",
		Message: "license expired",
	}
	ErrAlreadyBoundToOther = errutil.BaseError{
		Code: errutil.StatusConflict, Reason: "already_bound",
		Message: "license already activated on another account",
	}
	ErrEmailMismatch = errutil.BaseError{
		Code: errutil.StatusForbidden, Reason: "email_mismatch",
		Message: "email does not match the license",
	}
	ErrInvalidDuration = errutil.BaseError{
		Code: errutil.StatusBadRequest, Reason: "invalid_duration",
		Message: "months must be one of 1, 12, 24",
	}
	ErrNoCurrentExpiry = errutil.BaseError{
		Code: errutil.StatusUnprocessableEntity, Reason: "no_current_expiry",
		Message: "license has no expiry to renew from",
	}
	ErrKeyGenerationExhausted = errutil.BaseError{
		Code: errutil.StatusConflict, Reason: "key_generation_exhausted",
		Message: "could not generate a unique license key",
	}
	ErrInvalidToken = errutil.BaseError{
		Code: errutil.StatusBadRequest, Reason: "invalid_token",
		Message: "invalid or expired link",
	}
	ErrStorageUnavailable = errutil.BaseError{
		Code: errutil.StatusServiceUnavailable, Reason: "storage_unavailable",
		Message: "license storage unavailable",
	}
	ErrInvalidExpiry = errutil.BaseError{
		Code: errutil.StatusBadRequest, Reason: "invalid_expiry",
		Message: "expiry must be after today",
	}
	ErrInvalidArgument = errutil.BaseError{
		Code: errutil.StatusBadRequest, Reason: "invalid_argument",
		Message: "invalid request",
	}
	ErrDispatchFailed = errutil.BaseError{
		Code: errutil.StatusBadGateway, Reason: "dispatch_failed",
		Message: "mail delivery failed",
	}
)

// errConcurrentUpdate signals a lost compare-and-swap; the caller re-reads
// and tries again.
var errConcurrentUpdate = errors.New("license: concurrent update")

// storageErr passes domain errors through and maps anything else to
// ErrStorageUnavailable with the cause attached.
func storageErr(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := errutil.As(err); ok || errors.Is(err, errConcurrentUpdate) {
		return err
	}
	return errutil.Wrap(ErrStorageUnavailable, err)
}

// withMessage copies a sentinel with a more specific public message.
func withMessage(base errutil.BaseError, msg string) error {
	base.Message = msg
	return base
}
