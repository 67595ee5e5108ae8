package p4rt

import (
	"errors"
	"fmt"
)

// ErrNotPrimary is returned by MasterArbitration when the switch reports
// that another controller holds a higher election id.
var ErrNotPrimary = errors.New("p4rt: controller is not primary")

// WriteError reports a failed write batch. The switch applies nothing the
// caller can rely on: the batch is failed as a whole.
type WriteError struct {
	Count int   // number of table writes in the batch
	Err   error // encoding error or RPC error
}

func (e *WriteError) Error() string {
	return fmt.Sprintf("write %d table entries: %v", e.Count, e.Err)
}

func (e *WriteError) Unwrap() error {
	return e.Err
}

// IsWriteError reports whether err is or wraps a WriteError.
func IsWriteError(err error) bool {
	var we *WriteError
	return errors.As(err, &we)
}
