// Package wire holds the JSON messages exchanged between two sites.
package wire

import (
	"encoding/json"
	"fmt"
)

// Action is the mutation a wire record carries.
type Action string

const (
	ActionUpsert Action = "UPSERT"
	ActionDelete Action = "DELETE"
)

// Valid reports whether a is a known action.
func (a Action) Valid() bool {
	return a == ActionUpsert || a == ActionDelete
}

// Record is one row change in transit. Data is the translator-specific payload
// and stays opaque to everything except the translator that claims TableName.
type Record struct {
	TableName string          `json:"table_name"`
	RecordID  string          `json:"record_id"`
	Action    Action          `json:"action"`
	Data      json.RawMessage `json:"data"`

	// Sequence is the sender's changelog sequence for this change.
	// Receivers key buffered records by it so duplicate delivery is harmless.
	Sequence int64 `json:"sequence,omitempty"`
}

// Validate checks the envelope fields, not the payload.
func (r Record) Validate() error {
	if r.TableName == "" {
		return fmt.Errorf("record has empty table_name")
	}
	if r.RecordID == "" {
		return fmt.Errorf("record in %s has empty record_id", r.TableName)
	}
	if !r.Action.Valid() {
		return fmt.Errorf("record %s/%s has invalid action %q", r.TableName, r.RecordID, r.Action)
	}
	return nil
}

// PullRequest asks a peer for records beyond Cursor.
type PullRequest struct {
	SiteID   string `json:"site_id"`
	Cursor   int64  `json:"cursor"`
	PageSize int    `json:"page_size"`
}

// PullResponse is one page of records. MaxCursor is the highest sequence the
// peer examined for this page, even when some entries were filtered out.
type PullResponse struct {
	Records   []Record `json:"records"`
	HasMore   bool     `json:"has_more"`
	MaxCursor int64    `json:"max_cursor"`
}

// PushRequest transmits local changes to a peer.
type PushRequest struct {
	SiteID  string   `json:"site_id"`
	Records []Record `json:"records"`
}

// Rejection explains why a peer refused one pushed record. Rejections are
// permanent; the sender does not retry them.
type Rejection struct {
	TableName string `json:"table_name"`
	RecordID  string `json:"record_id"`
	Sequence  int64  `json:"sequence,omitempty"`
	Reason    string `json:"reason"`
}

// PushResponse acknowledges a push. AcceptedCursor is the highest sequence
// the peer durably stored.
type PushResponse struct {
	AcceptedCursor int64       `json:"accepted_cursor"`
	Rejections     []Rejection `json:"rejections,omitempty"`
}
