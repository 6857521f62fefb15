package exception

import "github.com/yanun0323/errors"

var (
	ErrMalformedTick      = errors.New("market data: malformed tick")
	ErrUnknownSymbol      = errors.New("market data: unknown symbol")
	ErrUnknownFeed        = errors.New("market data: unknown feed kind")
	ErrInvalidReplaySpeed = errors.New("market data: invalid replay speed")
	ErrNothingSubscribed  = errors.New("market data: nothing subscribed")
)
