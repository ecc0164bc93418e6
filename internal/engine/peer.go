package engine

import (
	"context"

	"github.com/roach88/storesync/internal/wire"
)

// Peer is the other side of the sync protocol.
// transport.Client implements it over HTTP; Hub implements it in process.
type Peer interface {
	Pull(ctx context.Context, req wire.PullRequest) (wire.PullResponse, error)
	Push(ctx context.Context, req wire.PushRequest) (wire.PushResponse, error)
}
