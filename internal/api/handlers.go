package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/ipfs/go-cid"

	"github.com/arke-institute/arke-archive/internal/arkeerr"
	"github.com/arke-institute/arke-archive/internal/metrics"
	"github.com/arke-institute/arke-archive/internal/model"
	"github.com/arke-institute/arke-archive/internal/snapshotbuilder"
	"github.com/arke-institute/arke-archive/internal/tip"
)

func (s *Server) handleIndexPointer(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	p, err := s.Index.Get(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// createEntityRequest is the POST /entities body (spec §4.8).
type createEntityRequest struct {
	PI         string            `json:"pi,omitempty"`
	Components map[string]string `json:"components"`
	ChildrenPI []string          `json:"children_pi,omitempty"`
	Note       string            `json:"note,omitempty"`
}

func (s *Server) handleEntitiesCollection(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req createEntityRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, arkeerr.Wrap(arkeerr.Malformed, "decode request body", err))
		return
	}

	components, err := parseCIDMap(req.Components)
	if err != nil {
		writeError(w, err)
		return
	}

	timer := metrics.NewTimer()
	res, err := s.Tip.Create(r.Context(), tip.CreateInput{
		PI:         req.PI,
		Components: components,
		ChildrenPI: req.ChildrenPI,
		Note:       req.Note,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	timer.ObserveDuration(metrics.EntityCreateDuration)

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"pi":  res.PI,
		"ver": res.Ver,
		"cid": res.CID,
	})
}

// updateEntityRequest is the POST /entities/{pi}/versions body (spec §4.8).
type updateEntityRequest struct {
	ExpectTip       string            `json:"expect_tip"`
	ComponentsPatch map[string]string `json:"components_patch,omitempty"`
	ChildrenAdd     []string          `json:"children_add,omitempty"`
	ChildrenRemove  []string          `json:"children_remove,omitempty"`
	Note            string            `json:"note,omitempty"`
}

// handleEntityItem dispatches every path under /entities/{pi}... since
// net/http.ServeMux has no path-parameter routing (spec's endpoint
// table groups these under one resource).
func (s *Server) handleEntityItem(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/entities/")
	parts := strings.Split(strings.Trim(rest, "/"), "/")
	if len(parts) == 0 || parts[0] == "" {
		http.NotFound(w, r)
		return
	}
	pi := parts[0]

	switch {
	case len(parts) == 1:
		s.getEntityLatest(w, r, pi)
	case len(parts) == 2 && parts[1] == "versions":
		switch r.Method {
		case http.MethodGet:
			s.listEntityVersions(w, r, pi)
		case http.MethodPost:
			s.updateEntity(w, r, pi)
		default:
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		}
	case len(parts) == 3 && parts[1] == "versions":
		s.getEntityVersion(w, r, pi, parts[2])
	default:
		http.NotFound(w, r)
	}
}

func (s *Server) getEntityLatest(w http.ResponseWriter, r *http.Request, pi string) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	man, c, err := s.Tip.GetLatest(r.Context(), pi)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, manifestResponse(man, c))
}

func (s *Server) updateEntity(w http.ResponseWriter, r *http.Request, pi string) {
	var req updateEntityRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, arkeerr.Wrap(arkeerr.Malformed, "decode request body", err))
		return
	}

	expectTip, err := parseCID(req.ExpectTip)
	if err != nil {
		writeError(w, err)
		return
	}
	patch, err := parseCIDMap(req.ComponentsPatch)
	if err != nil {
		writeError(w, err)
		return
	}

	timer := metrics.NewTimer()
	res, err := s.Tip.Update(r.Context(), tip.UpdateInput{
		PI:              pi,
		ExpectTip:       expectTip,
		ComponentsPatch: patch,
		ChildrenAdd:     req.ChildrenAdd,
		ChildrenRemove:  req.ChildrenRemove,
		Note:            req.Note,
	})
	if err != nil {
		if kind, ok := arkeerr.KindOf(err); ok && kind == arkeerr.Conflict {
			metrics.EntityUpdateConflicts.Inc()
		}
		writeError(w, err)
		return
	}
	timer.ObserveDuration(metrics.EntityUpdateDuration)

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"pi":  pi,
		"ver": res.Ver,
		"cid": res.CID,
	})
}

func (s *Server) listEntityVersions(w http.ResponseWriter, r *http.Request, pi string) {
	limit := queryInt(r, "limit", 20)
	cursor, err := parseCID(r.URL.Query().Get("cursor"))
	if err != nil {
		writeError(w, err)
		return
	}

	items, next, err := s.Tip.ListVersions(r.Context(), pi, limit, cursor)
	if err != nil {
		writeError(w, err)
		return
	}

	out := make([]map[string]interface{}, 0, len(items))
	for _, it := range items {
		out = append(out, map[string]interface{}{
			"cid":  it.CID,
			"ver":  it.Ver,
			"ts":   it.TS,
			"note": it.Note,
		})
	}

	resp := map[string]interface{}{"versions": out}
	if next.Defined() {
		resp["next_cursor"] = next
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) getEntityVersion(w http.ResponseWriter, r *http.Request, pi, verOrCID string) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var byCID *cid.Cid
	ver := 0
	if c, err := cid.Parse(verOrCID); err == nil {
		byCID = &c
	} else {
		v, err := strconv.Atoi(verOrCID)
		if err != nil {
			writeError(w, arkeerr.New(arkeerr.Malformed, "version must be an integer or cid"))
			return
		}
		ver = v
	}

	man, c, err := s.Tip.GetVersion(r.Context(), pi, ver, byCID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, manifestResponse(man, c))
}

func (s *Server) handleResolve(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	pi := strings.TrimPrefix(r.URL.Path, "/resolve/")
	c, err := s.Tip.Resolve(r.Context(), pi)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"pi": pi, "tip_cid": c})
}

// eventAppendRequest is the POST /events/append body. Direct event
// appends bypass the tip manager entirely, for callers that manage
// their own manifest chain and only need the shared event log and
// index-pointer counters updated (spec §4.8 endpoint table).
type eventAppendRequest struct {
	PI     string `json:"pi"`
	Ver    int    `json:"ver"`
	TipCID string `json:"tip_cid"`
	Type   string `json:"type"`
}

func (s *Server) handleEventAppend(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req eventAppendRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, arkeerr.Wrap(arkeerr.Malformed, "decode request body", err))
		return
	}

	tipCID, err := parseCID(req.TipCID)
	if err != nil {
		writeError(w, err)
		return
	}

	key := idempotencyKey(req.PI, req.Ver, req.TipCID)
	if cached, ok := s.seen.get(key); ok {
		writeJSON(w, http.StatusOK, map[string]interface{}{"event_cid": cached, "deduplicated": "true"})
		return
	}

	evtType := model.EventUpdate
	if req.Type == string(model.EventCreate) {
		evtType = model.EventCreate
	}

	eventCID, err := s.Events.Append(r.Context(), evtType, req.PI, req.Ver, tipCID)
	if err != nil {
		writeError(w, err)
		return
	}
	s.seen.put(key, eventCID)

	writeJSON(w, http.StatusOK, map[string]interface{}{"event_cid": eventCID})
}

func (s *Server) handleEventsList(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	limit := queryInt(r, "limit", 50)
	cursor, err := parseCID(r.URL.Query().Get("cursor"))
	if err != nil {
		writeError(w, err)
		return
	}

	items, next, _, err := s.Events.ListEvents(r.Context(), limit, cursor)
	if err != nil {
		writeError(w, err)
		return
	}

	out := make([]map[string]interface{}, 0, len(items))
	for _, it := range items {
		out = append(out, map[string]interface{}{
			"event_cid": it.EventCID,
			"type":      string(it.Type),
			"pi":        it.PI,
			"ver":       it.Ver,
			"tip_cid":   it.TipCID,
			"ts":        it.TS,
		})
	}

	resp := map[string]interface{}{"events": out}
	if next.Defined() {
		resp["next_cursor"] = next
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleSnapshotLatest(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	p, err := s.Index.Get(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	if p.LatestSnapshot == nil {
		writeError(w, arkeerr.New(arkeerr.NotFound, "no snapshot has been built yet"))
		return
	}

	var snap model.Snapshot
	if err := s.Store.GetDAG(r.Context(), *p.LatestSnapshot, &snap); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"cid":      *p.LatestSnapshot,
		"snapshot": snap,
	})
}

func (s *Server) handleSnapshotRebuild(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	trigger := snapshotbuilder.TriggerManual
	if r.URL.Query().Get("force") == "true" {
		trigger = snapshotbuilder.TriggerForced
	}

	timer := metrics.NewTimer()
	res, err := s.Builder.Build(r.Context(), trigger)
	if err != nil {
		writeError(w, err)
		return
	}
	timer.ObserveDuration(metrics.SnapshotBuildDuration)

	if res.Skipped {
		writeJSON(w, http.StatusOK, map[string]interface{}{"skipped": true})
		return
	}

	metrics.SnapshotEntryCount.Set(float64(len(res.Snapshot.Entries)))
	metrics.SnapshotCIDCount.Set(float64(res.Snapshot.CIDCount))
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"skipped":  false,
		"cid":      res.CID,
		"seq":      res.Snapshot.Seq,
		"entries":  len(res.Snapshot.Entries),
		"snapshot": res.Snapshot,
	})
}

func manifestResponse(man *model.Manifest, c cid.Cid) map[string]interface{} {
	components := make(map[string]cid.Cid, len(man.Components))
	for k, v := range man.Components {
		components[k] = v
	}
	resp := map[string]interface{}{
		"cid":         c,
		"pi":          man.PI,
		"ver":         man.Ver,
		"ts":          man.TS,
		"components":  components,
		"children_pi": man.ChildrenPI,
		"note":        man.Note,
	}
	if man.Prev != nil {
		resp["prev"] = *man.Prev
	}
	return resp
}

func parseCIDMap(in map[string]string) (map[string]cid.Cid, error) {
	if in == nil {
		return nil, nil
	}
	out := make(map[string]cid.Cid, len(in))
	for k, v := range in {
		c, err := parseCID(v)
		if err != nil {
			return nil, err
		}
		out[k] = c
	}
	return out, nil
}
