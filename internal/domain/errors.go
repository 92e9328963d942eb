package domain

import "errors"

var (
	ErrNotFound            = errors.New("not found")
	ErrInvalidImage        = errors.New("invalid image")
	ErrComposite           = errors.New("composite failed")
	ErrBadUpstreamResponse = errors.New("bad upstream response")
	ErrUpstreamTimeout     = errors.New("upstream timeout")
	ErrUpstreamUnavailable = errors.New("upstream unavailable")
	ErrJobFailed           = errors.New("swap job failed")
	ErrJobTimedOut         = errors.New("swap job timed out")
	ErrSessionExpired      = errors.New("session expired")
	ErrUnknownPoster       = errors.New("unknown poster")
)
