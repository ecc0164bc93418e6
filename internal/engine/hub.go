package engine

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/roach88/storesync/internal/store"
	"github.com/roach88/storesync/internal/syncerr"
	"github.com/roach88/storesync/internal/translate"
	"github.com/roach88/storesync/internal/wire"
)

// DefaultMaxPageSize caps the page size a Hub serves regardless of request.
const DefaultMaxPageSize = 1000

// Hub is the central site's side of the protocol. It serves its changelog
// to remote sites and stages what they push into its own buffer, where the
// central coordinator integrates it.
//
// Hub implements Peer, so a remote coordinator can talk to it in process.
type Hub struct {
	st          *store.Store
	reg         *translate.Registry
	siteID      string
	maxPageSize int
	logger      *slog.Logger
}

// HubOption configures a Hub.
type HubOption func(*Hub)

// WithMaxPageSize caps served pages.
func WithMaxPageSize(n int) HubOption {
	return func(h *Hub) {
		if n > 0 {
			h.maxPageSize = n
		}
	}
}

// WithHubLogger sets the hub's logger.
func WithHubLogger(l *slog.Logger) HubOption {
	return func(h *Hub) {
		h.logger = l
	}
}

// NewHub creates a Hub for the central site siteID.
func NewHub(st *store.Store, reg *translate.Registry, siteID string, opts ...HubOption) *Hub {
	h := &Hub{
		st:          st,
		reg:         reg,
		siteID:      siteID,
		maxPageSize: DefaultMaxPageSize,
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(h)
	}
	h.logger = h.logger.With("component", "hub")
	return h
}

// Pull serves changelog entries after req.Cursor to a remote site.
//
// Entries that originated on the requester, that belong to stores not active
// on it, or whose table is not replicated are skipped, but MaxCursor still
// moves past them so the requester never scans them again.
func (h *Hub) Pull(ctx context.Context, req wire.PullRequest) (wire.PullResponse, error) {
	if req.SiteID == "" {
		return wire.PullResponse{}, fmt.Errorf("pull: empty site_id")
	}
	size := req.PageSize
	if size <= 0 || size > h.maxPageSize {
		size = h.maxPageSize
	}

	active, err := LoadActiveStores(ctx, h.st, req.SiteID)
	if err != nil {
		return wire.PullResponse{}, fmt.Errorf("pull: %w", err)
	}
	head, err := h.st.MaxSequence(ctx)
	if err != nil {
		return wire.PullResponse{}, fmt.Errorf("pull: %w", err)
	}

	resp := wire.PullResponse{Records: []wire.Record{}, MaxCursor: req.Cursor}
	after := req.Cursor
	for len(resp.Records) < size && after < head {
		entries, err := h.st.ChangesSince(ctx, store.ChangeQuery{After: after, Limit: size})
		if err != nil {
			return wire.PullResponse{}, fmt.Errorf("pull: %w", err)
		}
		start := after
		for _, e := range entries {
			if e.Sequence > head || len(resp.Records) == size {
				break
			}
			after = e.Sequence
			rec, ok, err := h.servable(ctx, req.SiteID, active, e)
			if err != nil {
				return wire.PullResponse{}, fmt.Errorf("pull: %w", err)
			}
			if ok {
				resp.Records = append(resp.Records, rec)
			}
		}
		if after == start {
			break
		}
	}
	if after > resp.MaxCursor {
		resp.MaxCursor = after
	}
	resp.HasMore = resp.MaxCursor < head

	h.logger.Debug("pull served",
		"site", req.SiteID, "cursor", req.Cursor, "records", len(resp.Records),
		"max_cursor", resp.MaxCursor, "has_more", resp.HasMore)
	return resp, nil
}

func (h *Hub) servable(ctx context.Context, requester string, active ActiveStores, e store.ChangeLogEntry) (wire.Record, bool, error) {
	if e.OriginSite == requester || !active.Contains(e.StoreScope) {
		return wire.Record{}, false, nil
	}
	tr, ok := h.reg.ForLocal(e.TableName)
	if !ok {
		return wire.Record{}, false, nil
	}
	rec, ok, err := encodeEntry(ctx, h.st, tr, e)
	if err != nil {
		if syncerr.KindOf(err) == syncerr.KindTranslation {
			h.logger.Error("changelog entry could not be encoded",
				"table", e.TableName, "record_id", e.RecordID, "sequence", e.Sequence, "error", err)
			return wire.Record{}, false, nil
		}
		return wire.Record{}, false, err
	}
	return rec, ok, nil
}

// Push stages a remote site's records in the central buffer.
//
// Records for unregistered tables, without a sequence, or scoped to a store
// that is not active on the sender are rejected individually. Payloads are
// not fully validated here; the central Integrator does that and records
// failures against the buffered record. AcceptedCursor is the highest
// sequence in the request, rejected or not, since rejections are final.
func (h *Hub) Push(ctx context.Context, req wire.PushRequest) (wire.PushResponse, error) {
	if req.SiteID == "" {
		return wire.PushResponse{}, fmt.Errorf("push: empty site_id")
	}
	active, err := LoadActiveStores(ctx, h.st, req.SiteID)
	if err != nil {
		return wire.PushResponse{}, fmt.Errorf("push: %w", err)
	}

	var (
		resp     wire.PushResponse
		accepted []wire.Record
	)
	for _, rec := range req.Records {
		resp.AcceptedCursor = max(resp.AcceptedCursor, rec.Sequence)
		if reason := h.rejectReason(ctx, active, rec); reason != "" {
			resp.Rejections = append(resp.Rejections, wire.Rejection{
				TableName: rec.TableName,
				RecordID:  rec.RecordID,
				Sequence:  rec.Sequence,
				Reason:    reason,
			})
			continue
		}
		accepted = append(accepted, rec)
	}

	inserted, err := h.st.StagePage(ctx, req.SiteID, accepted, "", 0)
	if err != nil {
		return wire.PushResponse{}, fmt.Errorf("push: %w", err)
	}
	h.logger.Info("push received",
		"site", req.SiteID, "records", len(req.Records), "staged", inserted,
		"rejected", len(resp.Rejections), "accepted_cursor", resp.AcceptedCursor)
	return resp, nil
}

func (h *Hub) rejectReason(ctx context.Context, active ActiveStores, rec wire.Record) string {
	if err := rec.Validate(); err != nil {
		return err.Error()
	}
	if rec.Sequence <= 0 {
		return "missing sequence"
	}
	tr, ok := h.reg.ForWire(rec.TableName)
	if !ok {
		return fmt.Sprintf("unknown table %q", rec.TableName)
	}

	scope, known := h.pushedScope(ctx, tr, rec)
	if known && !active.Contains(scope) {
		return fmt.Sprintf("store %s is not active on the sending site", scope)
	}
	return ""
}

// pushedScope works out the store a pushed record belongs to. known is false
// when that cannot be decided here (undecodable payload, missing parent);
// the Integrator reports those cases.
func (h *Hub) pushedScope(ctx context.Context, tr translate.Translator, rec wire.Record) (scope string, known bool) {
	if rec.Action == wire.ActionDelete {
		stored, err := h.st.StoreScopeOf(ctx, tr.LocalTable(), rec.RecordID)
		if err != nil {
			return "", false
		}
		return stored, true
	}
	r, err := tr.DecodeUpsert(rec.Data)
	if err != nil {
		return "", false
	}
	scope, err = scopeOf(ctx, h.st, tr, r)
	if err != nil {
		return "", false
	}
	return scope, true
}
