package redis

import "errors"

var (
	ErrInvalidURL        = errors.New("invalid redis url")
	ErrNotReady          = errors.New("redis did not answer within the connect timeout")
	ErrHealthcheckFailed = errors.New("redis healthcheck failed")
	ErrEmptyKey          = errors.New("redis key cannot be empty")
)
