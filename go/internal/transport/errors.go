package transport

import "errors"

// ErrNotStarted is returned by write operations attempted before the
// substrate has joined the session.
var ErrNotStarted = errors.New("transport: not started")
