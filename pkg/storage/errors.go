package storage

import "errors"

var (
	// ErrNotEnabled is returned when storage is not enabled
	ErrNotEnabled = errors.New("storage is not enabled")

	// ErrInvalidConfig is returned when configuration is invalid
	ErrInvalidConfig = errors.New("invalid configuration")

	// ErrConnectionFailed is returned when opening the database fails
	ErrConnectionFailed = errors.New("connection failed")

	// ErrQueryFailed is returned when a read or write fails
	ErrQueryFailed = errors.New("query failed")

	// ErrBufferFull is returned when the write buffer is full
	ErrBufferFull = errors.New("buffer full")

	// ErrClosed is returned when attempting to use a closed storage
	ErrClosed = errors.New("storage is closed")
)
