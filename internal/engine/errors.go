package engine

import (
	"context"
	"errors"

	"github.com/roach88/storesync/internal/syncerr"
)

// ErrSessionInProgress is returned when a sync session is requested while
// another one holds the site, in this process or another.
var ErrSessionInProgress = errors.New("sync session already in progress")

// asSessionError classifies an error returned by a peer. Errors that already
// carry a kind keep it, cancellation passes through, and anything else is a
// transport failure.
func asSessionError(msg string, err error) error {
	if err == nil {
		return nil
	}
	if syncerr.KindOf(err) != "" || errors.Is(err, context.Canceled) {
		return err
	}
	return syncerr.Transport(msg, err)
}
