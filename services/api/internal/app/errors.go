package app

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound     = errors.New("not found")
	ErrInvalidInput = errors.New("invalid input")
	ErrConflict     = errors.New("conflict")
	ErrForbidden    = errors.New("forbidden")

	// ErrUnauthorized is returned for missing, invalid or revoked access tokens.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrInvalidCredentials is shown to end users and must not reveal whether the account exists.
	ErrInvalidCredentials = errors.New("incorrect username or password")

	ErrInvalidRefreshToken  = errors.New("invalid refresh token")
	ErrRefreshTokenRequired = fmt.Errorf("%w: refresh token required", ErrInvalidInput)

	ErrEmailTaken    = fmt.Errorf("%w: email already registered", ErrConflict)
	ErrUsernameTaken = fmt.Errorf("%w: username already taken", ErrConflict)
	ErrAuthorInUse   = fmt.Errorf("%w: author still has books", ErrConflict)

	ErrInsufficientStock = errors.New("insufficient stock")
	ErrInvalidTransition = fmt.Errorf("%w: order status transition not allowed", ErrConflict)

	ErrImageInvalid       = fmt.Errorf("%w: uploaded image rejected", ErrInvalidInput)
	ErrStorageUnavailable = errors.New("image storage is not configured")
)
