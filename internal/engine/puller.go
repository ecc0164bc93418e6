package engine

import (
	"context"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/roach88/storesync/internal/store"
	"github.com/roach88/storesync/internal/syncerr"
	"github.com/roach88/storesync/internal/translate"
	"github.com/roach88/storesync/internal/wire"
)

// DefaultPageSize bounds pull and push pages when none is configured.
const DefaultPageSize = 500

// Puller fetches pages of peer records beyond the pull cursor and stages
// them in the sync buffer.
//
// The next page is fetched while the previous one is being persisted. The
// cursor only advances in the transaction that stages its page, so a
// failure at any point leaves it at the last fully staged page.
type Puller struct {
	st       *store.Store
	peer     Peer
	reg      *translate.Registry
	pageSize int
	logger   *slog.Logger
}

// NewPuller creates a Puller. pageSize <= 0 uses DefaultPageSize.
func NewPuller(st *store.Store, peer Peer, reg *translate.Registry, pageSize int, logger *slog.Logger) *Puller {
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Puller{st: st, peer: peer, reg: reg, pageSize: pageSize, logger: logger.With("component", "puller")}
}

// page is a fetched, checked pull response.
type page struct {
	records []wire.Record
	cursor  int64
}

// Pull stages every outstanding peer page.
func (p *Puller) Pull(ctx context.Context, sess *Session) error {
	key := store.PullCursorKey(sess.Peer)
	cursor, err := p.st.Cursor(ctx, key)
	if err != nil {
		return fmt.Errorf("pull: %w", err)
	}
	log := sess.Logger.With("component", "puller", "peer", sess.Peer)
	log.Info("pull starting", "cursor", cursor)

	pages := make(chan page, 1)
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		defer close(pages)
		next := cursor
		for {
			resp, err := p.peer.Pull(gctx, wire.PullRequest{
				SiteID:   sess.SiteID(),
				Cursor:   next,
				PageSize: p.pageSize,
			})
			if err != nil {
				return asSessionError("pull page", err)
			}
			pg, err := p.check(resp, next)
			if err != nil {
				return err
			}
			select {
			case pages <- pg:
			case <-gctx.Done():
				return gctx.Err()
			}
			if !resp.HasMore {
				return nil
			}
			next = pg.cursor
		}
	})

	// Pages already fetched are staged even if a later fetch fails, so the
	// stager uses ctx rather than gctx.
	g.Go(func() error {
		for pg := range pages {
			inserted, err := p.st.StagePage(ctx, sess.Peer, pg.records, key, pg.cursor)
			if err != nil {
				return fmt.Errorf("pull: %w", err)
			}
			sess.Record.Pull.Total += int64(len(pg.records))
			sess.Record.Pull.Done += int64(len(pg.records))
			log.Debug("page staged", "records", len(pg.records), "new", inserted, "cursor", pg.cursor)
			if err := sess.Save(ctx); err != nil {
				return err
			}
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		return err
	}
	log.Info("pull finished", "records", sess.Record.Pull.Done)
	return nil
}

// check validates a response before anything from it is staged.
func (p *Puller) check(resp wire.PullResponse, requested int64) (page, error) {
	pg := page{records: make([]wire.Record, 0, len(resp.Records)), cursor: resp.MaxCursor}
	for _, rec := range resp.Records {
		if err := rec.Validate(); err != nil {
			return page{}, syncerr.Transport("peer sent an invalid record", err)
		}
		if _, ok := p.reg.ForWire(rec.TableName); !ok {
			return page{}, syncerr.FatalConfiguration(rec.TableName, "incoming record for unregistered table")
		}
		if rec.Sequence <= 0 {
			rec.Sequence = resp.MaxCursor
		}
		pg.records = append(pg.records, rec)
	}
	if resp.HasMore && resp.MaxCursor <= requested {
		return page{}, syncerr.Transport(
			fmt.Sprintf("peer reported more records without advancing past cursor %d", requested), nil)
	}
	if pg.cursor < requested {
		pg.cursor = requested
	}
	return pg, nil
}
