package pagestore

import "github.com/pkg/errors"

// ErrClosed is returned by any operation performed after Close.
var ErrClosed = errors.New("pagestore: store is closed")

// ErrNotFound is returned when a page id has never been allocated (or was
// deallocated and not since reissued).
var ErrNotFound = errors.New("pagestore: page id not allocated")
