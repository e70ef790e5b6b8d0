package prior

import (
	"errors"
	"fmt"
)

// UnsupportedError marks a code path that is declared but intentionally not
// implemented. Callers get it eagerly, never a silent pass-through.
type UnsupportedError struct {
	Op string
}

func (e UnsupportedError) Error() string {
	return fmt.Sprintf("unsupported operation: %s", e.Op)
}

// Checkpoint error types
type ErrBadMagic struct{ Magic uint32 }

func (e ErrBadMagic) Error() string {
	return fmt.Sprintf("weights file: bad magic 0x%08X", e.Magic)
}

type ErrBadVersion struct{ Version uint32 }

func (e ErrBadVersion) Error() string {
	return fmt.Sprintf("weights file: unsupported version %d", e.Version)
}

// ErrTensorShape is wrapped by checkpoint loading when a stored tensor's
// dimensions disagree with the declared parameters.
var ErrTensorShape = errors.New("tensor shape mismatch")
