package base

import (
	"errors"
	"fmt"
)

// ErrCorrupted is the root of the corruption taxonomy: every unreadable or
// inconsistent on-disk state wraps it, so callers can match the whole
// family with errors.Is.
var ErrCorrupted = errors.New("data corruption detected")

var (
	ErrInvalidMagicNumber = fmt.Errorf("invalid magic number: %w", ErrCorrupted)
	ErrInvalidVersion     = fmt.Errorf("unsupported format version: %w", ErrCorrupted)
	ErrInvalidPageSize    = fmt.Errorf("page size mismatch: %w", ErrCorrupted)
	ErrInvalidChecksum    = fmt.Errorf("invalid checksum: %w", ErrCorrupted)
	ErrInvalidPageTag     = fmt.Errorf("unexpected page tag: %w", ErrCorrupted)
	ErrInvalidOffset      = fmt.Errorf("page offset out of range: %w", ErrCorrupted)
)

// ErrPageOverflow reports an entry that cannot fit a page even after a
// split; it indicates an oversized key rather than corruption.
var ErrPageOverflow = errors.New("entry too large for page")
