package domain

import "errors"

var (
	ErrNotConnected   = errors.New("signal channel not connected")
	ErrInvalidSignal  = errors.New("invalid call signal")
	ErrPeerMismatch   = errors.New("signal from unexpected peer")
	ErrCallInProgress = errors.New("a call is already in progress")
	ErrNoActiveCall   = errors.New("no active call")
	ErrEngineNotReady = errors.New("media engine not ready")
	ErrNoConnection   = errors.New("no peer connection")
	ErrOfferTimeout   = errors.New("timed out waiting for remote offer")
	ErrPermission     = errors.New("media permission denied")
	ErrUnauthorized   = errors.New("unauthorized")
	ErrNotFound       = errors.New("not found")
)
