package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arke-institute/arke-archive/internal/blockstoretest"
	"github.com/arke-institute/arke-archive/internal/dr"
	"github.com/arke-institute/arke-archive/internal/eventchain"
	"github.com/arke-institute/arke-archive/internal/indexptr"
	"github.com/arke-institute/arke-archive/internal/lock"
	"github.com/arke-institute/arke-archive/internal/scheduler"
	"github.com/arke-institute/arke-archive/internal/snapshotbuilder"
	"github.com/arke-institute/arke-archive/internal/tip"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()
	store := blockstoretest.New()
	idx := indexptr.New(store)
	chain := eventchain.New(store, idx)
	tm := tip.New(store, chain)
	fl := lock.New(t.TempDir()+"/snap.lock", 10*time.Minute)
	builder := snapshotbuilder.New(store, idx, fl, t.TempDir(), false)
	exporter := dr.NewExporter(store, idx)
	sched := scheduler.New(builder, exporter, time.Hour, 0, t.TempDir())
	return NewServer(store, tm, chain, idx, builder, exporter, sched)
}

// linkString unwraps a typed-link response field ({"/":"cid"}) into its
// bare CID string, failing the test if the field isn't shaped that way.
func linkString(t *testing.T, v interface{}) string {
	t.Helper()
	m, ok := v.(map[string]interface{})
	require.True(t, ok, "expected typed-link map, got %T: %v", v, v)
	s, ok := m["/"].(string)
	require.True(t, ok, "expected typed-link \"/\" string, got %v", m)
	return s
}

func doJSON(t *testing.T, srv *Server, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var r *http.Request
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		r = httptest.NewRequest(method, path, bytes.NewReader(raw))
	} else {
		r = httptest.NewRequest(method, path, nil)
	}
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, r)
	return w
}

func TestAPI_Health(t *testing.T) {
	srv := newTestServer(t)
	w := doJSON(t, srv, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestAPI_CreateGetUpdateEntity(t *testing.T) {
	srv := newTestServer(t)

	w := doJSON(t, srv, http.MethodPost, "/entities", createEntityRequest{PI: "pi-a"})
	require.Equal(t, http.StatusOK, w.Code)
	var createResp map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &createResp))
	assert.Equal(t, "pi-a", createResp["pi"])
	assert.Equal(t, float64(1), createResp["ver"])
	tipCID := linkString(t, createResp["cid"])

	w = doJSON(t, srv, http.MethodGet, "/entities/pi-a", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var getResp map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &getResp))
	assert.Equal(t, "pi-a", getResp["pi"])

	w = doJSON(t, srv, http.MethodPost, "/entities/pi-a/versions", updateEntityRequest{ExpectTip: tipCID, Note: "v2"})
	require.Equal(t, http.StatusOK, w.Code)
	var updResp map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &updResp))
	assert.Equal(t, float64(2), updResp["ver"])
}

func TestAPI_UpdateConflict(t *testing.T) {
	srv := newTestServer(t)
	w := doJSON(t, srv, http.MethodPost, "/entities", createEntityRequest{PI: "pi-a"})
	require.Equal(t, http.StatusOK, w.Code)

	w = doJSON(t, srv, http.MethodPost, "/entities/pi-a/versions", updateEntityRequest{ExpectTip: "bafybeigdyrzt5sfp7udm7hu76uh7y26nf3efuylqabf3oclgtqy55fbzdi"})
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestAPI_CreateConflictOnDuplicatePI(t *testing.T) {
	srv := newTestServer(t)
	w := doJSON(t, srv, http.MethodPost, "/entities", createEntityRequest{PI: "pi-a"})
	require.Equal(t, http.StatusOK, w.Code)

	w = doJSON(t, srv, http.MethodPost, "/entities", createEntityRequest{PI: "pi-a"})
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestAPI_ResolveNotFound(t *testing.T) {
	srv := newTestServer(t)
	w := doJSON(t, srv, http.MethodGet, "/resolve/no-such-pi", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestAPI_EventsAppendIsIdempotent(t *testing.T) {
	srv := newTestServer(t)
	w := doJSON(t, srv, http.MethodPost, "/entities", createEntityRequest{PI: "pi-a"})
	require.Equal(t, http.StatusOK, w.Code)
	var createResp map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &createResp))
	tipCID := linkString(t, createResp["cid"])

	req := eventAppendRequest{PI: "pi-a", Ver: 1, TipCID: tipCID, Type: "create"}
	w1 := doJSON(t, srv, http.MethodPost, "/events/append", req)
	require.Equal(t, http.StatusOK, w1.Code)
	var r1 map[string]interface{}
	require.NoError(t, json.Unmarshal(w1.Body.Bytes(), &r1))

	w2 := doJSON(t, srv, http.MethodPost, "/events/append", req)
	require.Equal(t, http.StatusOK, w2.Code)
	var r2 map[string]interface{}
	require.NoError(t, json.Unmarshal(w2.Body.Bytes(), &r2))

	assert.Equal(t, r1["event_cid"], r2["event_cid"])
	assert.Equal(t, "true", r2["deduplicated"])
}

func TestAPI_SnapshotRebuildAndLatest(t *testing.T) {
	srv := newTestServer(t)
	w := doJSON(t, srv, http.MethodPost, "/entities", createEntityRequest{PI: "pi-a"})
	require.Equal(t, http.StatusOK, w.Code)

	w = doJSON(t, srv, http.MethodPost, "/snapshot/rebuild", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var rebuildResp map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &rebuildResp))
	assert.Equal(t, false, rebuildResp["skipped"])

	w = doJSON(t, srv, http.MethodGet, "/snapshot/latest", nil)
	require.Equal(t, http.StatusOK, w.Code)
}

func TestAPI_IndexPointer(t *testing.T) {
	srv := newTestServer(t)
	w := doJSON(t, srv, http.MethodGet, "/index-pointer", nil)
	assert.Equal(t, http.StatusOK, w.Code)
}
