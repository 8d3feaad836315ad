// Package handle provides single-owner wrappers around raw socket
// descriptors.
//
// An FD is released exactly once. After Close every accessor reports
// ErrClosed instead of handing out the old descriptor number, which the
// kernel may already have recycled for an unrelated file.
package handle

import (
	"errors"
	"fmt"
	"sync/atomic"

	"golang.org/x/sys/unix"
)

// ErrClosed is returned by every operation on a released descriptor.
var ErrClosed = errors.New("use of closed descriptor")

// FD owns one operating system descriptor.
type FD struct {
	sysfd  int
	kind   string
	closed atomic.Bool
}

// New takes ownership of sysfd. The caller must not close sysfd itself.
func New(sysfd int, kind string) *FD {
	return &FD{sysfd: sysfd, kind: kind}
}

// Sysfd returns the descriptor number while the FD is open.
func (f *FD) Sysfd() (int, error) {
	if f == nil || f.closed.Load() {
		return -1, ErrClosed
	}
	return f.sysfd, nil
}

// Kind returns the label given at construction, used for logging.
func (f *FD) Kind() string {
	return f.kind
}

// Closed reports whether Close has been called.
func (f *FD) Closed() bool {
	return f == nil || f.closed.Load()
}

// Close releases the descriptor. Only the first call reaches the kernel;
// later calls return ErrClosed.
func (f *FD) Close() error {
	if f == nil || !f.closed.CompareAndSwap(false, true) {
		return ErrClosed
	}
	if err := unix.Close(f.sysfd); err != nil {
		return fmt.Errorf("close %s fd %d: %w", f.kind, f.sysfd, err)
	}
	return nil
}

// String implements fmt.Stringer.
func (f *FD) String() string {
	if f.Closed() {
		return fmt.Sprintf("%s(closed)", f.kind)
	}
	return fmt.Sprintf("%s(%d)", f.kind, f.sysfd)
}
