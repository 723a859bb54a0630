package user

import "ristosmart-license/pkg/errutil"

var (
	ErrEmailTaken = errutil.BaseError{
		Code: errutil.StatusConflict, Reason: "email_taken",
		Message: "an account with this email already exists",
	}
	ErrInvalidCredentials = errutil.BaseError{
		Code: errutil.StatusUnauthorized, Reason: "invalid_credentials",
		Message: "invalid email or password",
	}
	ErrWeakPassword = errutil.BaseError{
		Code: errutil.StatusBadRequest, Reason: "weak_password",
		Message: "password must be at least 8 characters",
	}
	ErrInvalidEmail = errutil.BaseError{
		Code: errutil.StatusBadRequest, Reason: "invalid_email",
		Message: "a valid email is required",
	}
	ErrTooManyAttempts = errutil.BaseError{
		Code: errutil.StatusTooManyRequests, Reason: "too_many_attempts",
		Message: "too many failed attempts, retry later",
	}
	ErrStorageUnavailable = errutil.BaseError{
		Code: errutil.StatusServiceUnavailable, Reason: "storage_unavailable",
		Message: "storage unavailable",
	}
)

func storageErr(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := errutil.As(err); ok {
		return err
	}
	return errutil.Wrap(ErrStorageUnavailable, err)
}
