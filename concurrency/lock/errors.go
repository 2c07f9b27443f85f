package lock

import "github.com/pkg/errors"

// ErrTxnAborted is returned whenever a lock request is refused because the
// requesting transaction is not GROWING, is a wait-die victim, or misused
// unlock under strict two-phase locking. The transaction's own state is
// always set to Aborted before this is returned.
var ErrTxnAborted = errors.New("lock: transaction aborted")
