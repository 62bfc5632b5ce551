package loader

import (
	"errors"
	"fmt"

	"github.com/bigbag/esploader/internal/protocol"
)

var (
	// ErrSyncFailed means no valid sync reply arrived after all attempts.
	ErrSyncFailed = errors.New("could not sync with bootloader")

	// ErrUnknownChip means the probe register returned no known magic.
	ErrUnknownChip = errors.New("unknown chip")

	// ErrTimeout means no well-formed reply arrived within the deadline.
	ErrTimeout = errors.New("timeout waiting for response")

	// ErrInsufficientStatus means a reply was shorter than its status block.
	ErrInsufficientStatus = errors.New("reply too short for status")

	// ErrNotSupported means the operation is unavailable on this chip family.
	ErrNotSupported = errors.New("not supported on this chip")

	// ErrMd5Mismatch means post-flash verification disagreed with the
	// expected digest.
	ErrMd5Mismatch = errors.New("MD5 mismatch")
)

// BootloaderError is a reply that arrived with a failure status.
type BootloaderError struct {
	Code byte
}

func (e *BootloaderError) Error() string {
	return fmt.Sprintf("bootloader error 0x%02X (%s)", e.Code, protocol.ErrorMessage(e.Code))
}
