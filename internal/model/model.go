// Package model defines the content-addressed DAG nodes and mutable
// records of the Arke archive (spec §3): manifests, events, snapshots,
// and the index pointer.
//
// Every link-valued field is typed as cid.Cid (or *cid.Cid when
// optional), never a bare string. That is what lets internal/model's
// codec (see codec.go) tell a typed link apart from an ordinary string
// at encode time, which is the whole of spec §4.9's contract.
package model

import (
	"time"

	"github.com/ipfs/go-cid"
)

// Timestamp formats a time as the RFC3339 (with "Z" suffix) string the
// wire format requires (spec §6: "Timestamps are RFC 3339 with Z suffix").
func Timestamp(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

// Now returns the current time as a wire-format timestamp string.
func Now() string {
	return Timestamp(time.Now())
}

// Schema names. The canonical form uses "@v1"; "SchemaManifestLegacy"
// etc. are accepted on read only (spec §9 Open Questions: the source
// repo mixes "arke/manifest/v1" and "arke/manifest@v1" spellings).
const (
	SchemaManifest       = "arke/manifest@v1"
	SchemaManifestLegacy = "arke/manifest/v1"
	SchemaEvent          = "arke/event@v1"
	SchemaEventLegacy    = "arke/event/v1"
	SchemaSnapshot       = "arke/snapshot@v1"
	SchemaSnapshotLegacy = "arke/snapshot/v1"
	SchemaIndexPointer   = "arke/index-pointer@v2"
)

// NormalizeSchema maps a legacy schema spelling to its canonical @v1 form.
func NormalizeSchema(s string) string {
	switch s {
	case SchemaManifestLegacy:
		return SchemaManifest
	case SchemaEventLegacy:
		return SchemaEvent
	case SchemaSnapshotLegacy:
		return SchemaSnapshot
	default:
		return s
	}
}

// EventType distinguishes a create from an update event.
type EventType string

const (
	EventCreate EventType = "create"
	EventUpdate EventType = "update"
)

// Manifest is the immutable version node of one entity (spec §3).
type Manifest struct {
	Schema     string              `json:"schema"`
	PI         string              `json:"pi"`
	Ver        int                 `json:"ver"`
	TS         string              `json:"ts"`
	Prev       *cid.Cid            `json:"prev,omitempty"`
	Components map[string]cid.Cid  `json:"components"`
	ChildrenPI []string            `json:"children_pi,omitempty"`
	Note       string              `json:"note,omitempty"`
}

// Event is one entry in the append-only event chain (spec §3).
type Event struct {
	Schema string    `json:"schema"`
	Type   EventType `json:"type"`
	PI     string    `json:"pi"`
	Ver    int       `json:"ver"`
	TipCID cid.Cid   `json:"tip_cid"`
	TS     string    `json:"ts"`
	Prev   *cid.Cid  `json:"prev,omitempty"`
}

// SnapshotEntry is one row of a snapshot's deduplicated index.
type SnapshotEntry struct {
	PI       string  `json:"pi"`
	Ver      int     `json:"ver"`
	TipCID   cid.Cid `json:"tip_cid"`
	ChainCID cid.Cid `json:"chain_cid"`
	TS       string  `json:"ts"`
}

// Consistency carries the append-only proof's consistency summary (spec §4.5).
type Consistency struct {
	PrevCIDCount int  `json:"prev_cid_count"`
	CurrCIDCount int  `json:"curr_cid_count"`
	AddedCount   int  `json:"added_count"`
	DeletedCount int  `json:"deleted_count"`
	IsAppendOnly bool `json:"is_append_only"`
}

// Snapshot is the deduplicated fold of the event chain at a point in time (spec §3).
type Snapshot struct {
	Schema       string          `json:"schema"`
	Seq          int             `json:"seq"`
	TS           string          `json:"ts"`
	EventCID     cid.Cid         `json:"event_cid"`
	TotalCount   int             `json:"total_count"`
	PrevSnapshot *cid.Cid        `json:"prev_snapshot,omitempty"`
	Entries      []SnapshotEntry `json:"entries"`
	MerkleRoot   string          `json:"merkle_root,omitempty"`
	CIDCount     int             `json:"cid_count,omitempty"`
	AllCIDs      []string        `json:"all_cids,omitempty"`
	Consistency  *Consistency    `json:"consistency,omitempty"`
}

// IndexPointer is the single mutable root record (spec §3).
type IndexPointer struct {
	Schema              string   `json:"schema"`
	EventHead           *cid.Cid `json:"event_head,omitempty"`
	EventCount          int      `json:"event_count"`
	TotalPIs            int      `json:"total_pis"`
	LatestSnapshot      *cid.Cid `json:"latest_snapshot,omitempty"`
	SnapshotSeq         int      `json:"snapshot_seq"`
	SnapshotTS          string   `json:"snapshot_ts,omitempty"`
	LastSnapshotTrigger string   `json:"last_snapshot_trigger,omitempty"`
	LastUpdated         string   `json:"last_updated"`
}

// NewIndexPointer returns an empty index pointer, as seen by a freshly
// initialized archive or a blank store right after DR restore.
func NewIndexPointer() *IndexPointer {
	return &IndexPointer{
		Schema:      SchemaIndexPointer,
		LastUpdated: Now(),
	}
}
