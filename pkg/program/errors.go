package program

import "errors"

var (
	ErrSymbolNotFound  = errors.New("could not find symbol")
	ErrProgramReleased = errors.New("program has been released")
)
