package linker

import (
	"errors"
	"fmt"
)

var (
	ErrMultipleDefinition = errors.New("multiple definition")
	ErrUndefinedReference = errors.New("undefined reference")
	ErrRelocOverflow      = errors.New("relocation truncated to fit")
	ErrBadReloc           = errors.New("relocation references an unreserved entry")
	ErrUnsupportedReloc   = errors.New("unsupported relocation")
	ErrUnknownReloc       = errors.New("unknown relocation")
	ErrPhaseOrder         = errors.New("link phase out of order")
	ErrBadInput           = errors.New("malformed input")
	ErrUnknownEmulation   = errors.New("unknown emulation")
)

type SymbolError struct {
	Err   error
	Name  string
	Input string
	Other string
}

func (e *SymbolError) Error() string {
	switch {
	case e.Other != "":
		return fmt.Sprintf("%s: %v of `%s'; first defined in %s", e.Input, e.Err, e.Name, e.Other)
	case e.Input != "":
		return fmt.Sprintf("%s: %v to `%s'", e.Input, e.Err, e.Name)
	}
	return fmt.Sprintf("%v: `%s'", e.Err, e.Name)
}

func (e *SymbolError) Unwrap() error {
	return e.Err
}

type RelocError struct {
	Err     error
	Result  Result
	Type    string
	Symbol  string
	Section string
	Offset  uint64
}

func (e *RelocError) Error() string {
	return fmt.Sprintf("%s+0x%x: %v: %s against `%s'",
		e.Section, e.Offset, e.Err, e.Type, e.Symbol)
}

func (e *RelocError) Unwrap() error {
	return e.Err
}
