package qblock

import "errors"

var (
	ErrNotQuantized = errors.New("qblock: dtype is not quantized")
	ErrBadShape     = errors.New("qblock: invalid tensor shape")
	ErrTooLarge     = errors.New("qblock: tensor too large")
	ErrPayloadSize  = errors.New("qblock: payload size mismatch")
)
