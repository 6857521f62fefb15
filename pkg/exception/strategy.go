package exception

import "github.com/yanun0323/errors"

var (
	ErrUnknownStrategyKind  = errors.New("strategy: unknown kind")
	ErrInvalidStrategy      = errors.New("strategy: invalid config")
	ErrDuplicateStrategy    = errors.New("strategy: already registered")
	ErrEngineAlreadyStarted = errors.New("engine: already started")
	ErrEngineStopped        = errors.New("engine: stopped")
)
