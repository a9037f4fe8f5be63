package domain

import "errors"

var (
	ErrCallNotFound      = errors.New("call not found")
	ErrPermissionDenied  = errors.New("media permission denied")
	ErrPersistenceFailed = errors.New("persistence failed")
	ErrMissingOffer      = errors.New("call has no stored offer")
	ErrConnectionFailed  = errors.New("connection failed")
	ErrNotInCall         = errors.New("no call in progress")
	ErrAlreadyInCall     = errors.New("another call is in progress")
	ErrSelfCall          = errors.New("cannot call yourself")
	ErrInvalidTransition = errors.New("illegal call status transition")
	ErrNotInitialized    = errors.New("service not initialized")
)
