// Package eventchain maintains the append-only event log and the
// index pointer's event-related counters (spec §3, §4.3).
package eventchain

import (
	"context"

	"github.com/ipfs/go-cid"

	"github.com/arke-institute/arke-archive/internal/blockstore"
	"github.com/arke-institute/arke-archive/internal/indexptr"
	"github.com/arke-institute/arke-archive/internal/metrics"
	"github.com/arke-institute/arke-archive/internal/model"
)

// Chain is the C3 event chain manager. It implements tip.EventAppender.
type Chain struct {
	Store blockstore.Client
	Index *indexptr.Pointer
}

// New builds a Chain over store, serializing index-pointer updates
// through index.
func New(store blockstore.Client, index *indexptr.Pointer) *Chain {
	return &Chain{Store: store, Index: index}
}

// Append stores one event and advances the index pointer, all under
// the index-pointer mutex (spec §4.3).
func (c *Chain) Append(ctx context.Context, evtType model.EventType, pi string, ver int, tipCID cid.Cid) (cid.Cid, error) {
	var eventCID cid.Cid

	p, err := c.Index.Mutate(ctx, func(p *model.IndexPointer) (*model.IndexPointer, error) {
		var prev *cid.Cid
		if p.EventHead != nil {
			h := *p.EventHead
			prev = &h
		}

		event := model.Event{
			Schema: model.SchemaEvent,
			Type:   evtType,
			PI:     pi,
			Ver:    ver,
			TipCID: tipCID,
			TS:     model.Now(),
			Prev:   prev,
		}

		ecid, err := c.Store.PutDAG(ctx, event, model.Typed, true, false)
		if err != nil {
			return nil, err
		}
		eventCID = ecid

		next := *p
		next.EventHead = &ecid
		next.EventCount = p.EventCount + 1
		if evtType == model.EventCreate {
			next.TotalPIs = p.TotalPIs + 1
		}
		next.LastUpdated = model.Now()
		return &next, nil
	})
	if err != nil {
		return cid.Undef, err
	}
	metrics.EventCount.Set(float64(p.EventCount))
	return eventCID, nil
}

// EventEntry is one row of a ListEvents page.
type EventEntry struct {
	EventCID cid.Cid
	Type     model.EventType
	PI       string
	Ver      int
	TipCID   cid.Cid
	TS       string
}

// ListEvents walks the event chain newest-first from cursor (or the
// current event head if cursor is undefined), emitting up to limit
// entries (spec §4.3).
func (c *Chain) ListEvents(ctx context.Context, limit int, cursor cid.Cid) (items []EventEntry, next cid.Cid, eventHead cid.Cid, err error) {
	p, err := c.Index.Get(ctx)
	if err != nil {
		return nil, cid.Undef, cid.Undef, err
	}
	if p.EventHead != nil {
		eventHead = *p.EventHead
	}

	start := cursor
	if !start.Defined() {
		start = eventHead
	}

	cur := start
	for len(items) < limit && cur.Defined() {
		var ev model.Event
		if err := c.Store.GetDAG(ctx, cur, &ev); err != nil {
			return nil, cid.Undef, cid.Undef, err
		}
		items = append(items, EventEntry{
			EventCID: cur,
			Type:     ev.Type,
			PI:       ev.PI,
			Ver:      ev.Ver,
			TipCID:   ev.TipCID,
			TS:       ev.TS,
		})
		if ev.Prev == nil {
			return items, cid.Undef, eventHead, nil
		}
		cur = *ev.Prev
	}
	return items, cur, eventHead, nil
}
