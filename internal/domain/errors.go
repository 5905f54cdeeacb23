package domain

import "errors"

var (
	// ErrSessionNotFound is returned when a verification session does not exist.
	ErrSessionNotFound = errors.New("verification session not found")
	// ErrProfileNotFound indicates the widget profile could not be loaded.
	ErrProfileNotFound = errors.New("profile not found")
	// ErrUnsupportedMode indicates an unknown verification mode.
	ErrUnsupportedMode = errors.New("unsupported verification mode")
	// ErrWrongMode is returned when an interaction does not fit the session mode.
	ErrWrongMode = errors.New("interaction not supported by session mode")
	// ErrPlacementExhausted indicates point targets could not be placed with the requested spacing.
	ErrPlacementExhausted = errors.New("point placement attempts exhausted")
	// ErrImageLoad indicates a background image could not be fetched or decoded.
	ErrImageLoad = errors.New("image load failed")
)
