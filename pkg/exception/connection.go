package exception

import "github.com/yanun0323/errors"

var (
	ErrConnectionClose  = errors.New("connection closed")
	ErrNotConnected     = errors.New("connection not established")
	ErrInResponseError  = errors.New("there is an error in response error field")
	ErrStoreUnsupported = errors.New("store: unsupported driver")
)
