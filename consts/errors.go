package consts

import "errors"

var (
	ErrMalformedMessage = errors.New("malformed message")
	ErrMessageTooLarge  = errors.New("message size limit exceeded")
	ErrTooManySessions  = errors.New("session limit exceeded")
)
