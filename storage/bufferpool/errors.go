package bufferpool

import "github.com/pkg/errors"

// ErrOutOfMemory is returned by Fetch/NewPage when every frame is pinned
// and no victim is available — spec.md §7's OutOfMemory, fatal for the
// calling operation.
var ErrOutOfMemory = errors.New("bufferpool: no free frame and all frames pinned")

// ErrPagePinned is returned by Delete when the target page still has
// outstanding pins.
var ErrPagePinned = errors.New("bufferpool: page is pinned")

// ErrPageNotFound is returned by operations that require the page to
// already be resident (Unpin and Flush on an absent id).
var ErrPageNotFound = errors.New("bufferpool: page not resident")
