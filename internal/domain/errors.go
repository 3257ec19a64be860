package domain

import "errors"

var (
	ErrNotReady         = errors.New("stream not ready")
	ErrNoTicker         = errors.New("no ticker data")
	ErrPositionExists   = errors.New("position already exists")
	ErrPositionNotFound = errors.New("position not found")
	ErrOrderRejected    = errors.New("order rejected")
	ErrMinNotional      = errors.New("below minimum notional")
	ErrAuthFailed       = errors.New("authentication failed")
	ErrClosed           = errors.New("connection closed")
)
