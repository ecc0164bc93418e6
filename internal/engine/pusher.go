package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/roach88/storesync/internal/store"
	"github.com/roach88/storesync/internal/syncerr"
	"github.com/roach88/storesync/internal/translate"
	"github.com/roach88/storesync/internal/wire"
)

// Pusher sends local changelog entries beyond the push cursor to the peer.
//
// Entries written by the Integrator (sync-originated) and entries scoped to
// stores that are not active on the site are never sent. The cursor only
// advances after the peer acknowledges a batch, or locally for a page that
// had nothing to send.
type Pusher struct {
	st       *store.Store
	peer     Peer
	reg      *translate.Registry
	pageSize int
	logger   *slog.Logger
}

// NewPusher creates a Pusher. pageSize <= 0 uses DefaultPageSize.
func NewPusher(st *store.Store, peer Peer, reg *translate.Registry, pageSize int, logger *slog.Logger) *Pusher {
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Pusher{st: st, peer: peer, reg: reg, pageSize: pageSize, logger: logger.With("component", "pusher")}
}

// Push sends every outstanding page.
func (p *Pusher) Push(ctx context.Context, sess *Session) error {
	key := store.PushCursorKey(sess.Peer)
	cursor, err := p.st.Cursor(ctx, key)
	if err != nil {
		return fmt.Errorf("push: %w", err)
	}
	total, err := p.st.CountChangesSince(ctx, cursor)
	if err != nil {
		return fmt.Errorf("push: %w", err)
	}
	sess.Record.Push.Total = total
	log := sess.Logger.With("component", "pusher", "peer", sess.Peer)
	log.Info("push starting", "cursor", cursor, "entries", total)

	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		entries, err := p.st.ChangesSince(ctx, store.ChangeQuery{After: cursor, Limit: p.pageSize})
		if err != nil {
			return fmt.Errorf("push: %w", err)
		}
		if len(entries) == 0 {
			break
		}

		scanned := entries[len(entries)-1].Sequence
		batch, skipped, err := p.buildBatch(ctx, sess, entries, log)
		if err != nil {
			return fmt.Errorf("push: %w", err)
		}

		if len(batch) == 0 {
			if err := p.st.SetCursor(ctx, key, scanned); err != nil {
				return fmt.Errorf("push: %w", err)
			}
		} else {
			acked, err := p.send(ctx, sess, batch, log)
			if err != nil {
				return err
			}
			if acked < batch[len(batch)-1].Sequence {
				// Partial acknowledgement: keep what the peer confirmed and
				// resend the rest next session.
				if err := p.st.SetCursor(ctx, key, acked); err != nil {
					return fmt.Errorf("push: %w", err)
				}
				return syncerr.Transport(fmt.Sprintf("peer acknowledged cursor %d, batch ends at %d",
					acked, batch[len(batch)-1].Sequence), nil)
			}
			if err := p.st.SetCursor(ctx, key, scanned); err != nil {
				return fmt.Errorf("push: %w", err)
			}
		}

		sess.Record.Push.Done += int64(skipped)
		cursor = scanned
		if err := sess.Save(ctx); err != nil {
			return err
		}
		if len(entries) < p.pageSize {
			break
		}
	}

	log.Info("push finished", "sent", sess.Record.Push.Done, "rejected", sess.Record.Push.Failed)
	return nil
}

// buildBatch encodes the sendable entries of a page in sequence order and
// counts the rest as skipped. A row that fails to encode is dropped from
// push and counted as failed; the row itself stays intact locally.
func (p *Pusher) buildBatch(ctx context.Context, sess *Session, entries []store.ChangeLogEntry, log *slog.Logger) ([]wire.Record, int, error) {
	var (
		batch   []wire.Record
		skipped int
	)
	for _, e := range entries {
		rec, ok, err := p.encode(ctx, sess, e)
		if err != nil {
			if syncerr.KindOf(err) != syncerr.KindTranslation {
				return nil, 0, err
			}
			log.Error("changelog entry could not be encoded",
				"table", e.TableName, "record_id", e.RecordID, "sequence", e.Sequence, "error", err)
			sess.Record.Push.Failed++
			continue
		}
		if !ok {
			skipped++
			continue
		}
		batch = append(batch, rec)
	}
	return batch, skipped, nil
}

func (p *Pusher) encode(ctx context.Context, sess *Session, e store.ChangeLogEntry) (wire.Record, bool, error) {
	if e.SyncOriginated || !sess.Active.Contains(e.StoreScope) {
		return wire.Record{}, false, nil
	}
	tr, ok := p.reg.ForLocal(e.TableName)
	if !ok {
		// Local-only table; nothing to replicate.
		return wire.Record{}, false, nil
	}
	return encodeEntry(ctx, p.st, tr, e)
}

// encodeEntry turns a changelog entry into a wire record carrying the row's
// current data. ok is false when an upserted row has since been deleted;
// its delete entry follows later in the log.
func encodeEntry(ctx context.Context, st *store.Store, tr translate.Translator, e store.ChangeLogEntry) (rec wire.Record, ok bool, err error) {
	rec = wire.Record{
		TableName: tr.WireTables()[0],
		RecordID:  e.RecordID,
		Action:    e.Action,
		Sequence:  e.Sequence,
	}
	switch e.Action {
	case wire.ActionDelete:
		rec.Data, err = tr.EncodeDelete(e.RecordID)
	default:
		r, getErr := st.Get(ctx, e.TableName, e.RecordID)
		if errors.Is(getErr, sql.ErrNoRows) {
			return wire.Record{}, false, nil
		}
		if getErr != nil {
			return wire.Record{}, false, getErr
		}
		rec.Data, err = tr.Encode(r)
	}
	if err != nil {
		return wire.Record{}, false, err
	}
	return rec, true, nil
}

// send transmits a batch and returns the acknowledged cursor. Rejected
// records are permanent: they are logged and counted, never resent.
func (p *Pusher) send(ctx context.Context, sess *Session, batch []wire.Record, log *slog.Logger) (int64, error) {
	resp, err := p.peer.Push(ctx, wire.PushRequest{SiteID: sess.SiteID(), Records: batch})
	if err != nil {
		return 0, asSessionError("push batch", err)
	}
	for _, rej := range resp.Rejections {
		log.Warn("record rejected by peer",
			"table", rej.TableName, "record_id", rej.RecordID, "sequence", rej.Sequence, "reason", rej.Reason)
	}
	sess.Record.Push.Failed += int64(len(resp.Rejections))
	sess.Record.Push.Done += int64(len(batch) - len(resp.Rejections))
	log.Debug("batch sent", "records", len(batch), "rejected", len(resp.Rejections), "accepted_cursor", resp.AcceptedCursor)
	return resp.AcceptedCursor, nil
}
