package exception

import "github.com/yanun0323/errors"

var (
	ErrOrderUnsupportedAction = errors.New("order: unsupported action")
	ErrOrderInvalidRequest    = errors.New("order: invalid request")
	ErrOrderRejected          = errors.New("order: rejected by risk")
	ErrOrderQueueFull         = errors.New("order: queue full")
	ErrOrderAdapterClosed     = errors.New("order: execution adapter closed")
)
