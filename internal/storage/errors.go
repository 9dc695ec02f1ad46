package storage

import "errors"

var (
	ErrBufferNotFound = errors.New("buffer not found")
	ErrInvalidKey     = errors.New("invalid buffer key")
	ErrStorageInit    = errors.New("storage initialization failed")
	ErrFileOperation  = errors.New("file operation failed")
)
