package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dreamware/blockfs/internal/cluster"
	"github.com/dreamware/blockfs/internal/storage"
)

// fakeCoordinator records node traffic and answers heartbeats with a
// scripted response.
type fakeCoordinator struct {
	srv *httptest.Server

	mu            sync.Mutex
	registrations []cluster.RegisterRequest
	heartbeats    []cluster.HeartbeatRequest
	finalized     []cluster.FinalizeRequest
	next          cluster.HeartbeatResponse
	failRegister  int
	unknown       bool
}

func newFakeCoordinator(t *testing.T) *fakeCoordinator {
	t.Helper()
	f := &fakeCoordinator{}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /register", func(w http.ResponseWriter, r *http.Request) {
		var req cluster.RegisterRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		f.mu.Lock()
		defer f.mu.Unlock()
		if f.failRegister > 0 {
			f.failRegister--
			http.Error(w, "not ready", http.StatusServiceUnavailable)
			return
		}
		f.registrations = append(f.registrations, req)
		f.unknown = false
		_ = json.NewEncoder(w).Encode(cluster.RegisterResponse{NodeID: "node-1"})
	})
	mux.HandleFunc("POST /heartbeat", func(w http.ResponseWriter, r *http.Request) {
		var req cluster.HeartbeatRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		f.mu.Lock()
		defer f.mu.Unlock()
		if f.unknown {
			w.WriteHeader(http.StatusNotFound)
			_ = json.NewEncoder(w).Encode(cluster.ErrorResponse{Error: "unknown node"})
			return
		}
		f.heartbeats = append(f.heartbeats, req)
		resp := f.next
		f.next = cluster.HeartbeatResponse{Delete: []string{}, Replicate: []cluster.ReplicateInstruction{}}
		_ = json.NewEncoder(w).Encode(resp)
	})
	mux.HandleFunc("POST /finalize", func(w http.ResponseWriter, r *http.Request) {
		var req cluster.FinalizeRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		f.mu.Lock()
		f.finalized = append(f.finalized, req)
		f.mu.Unlock()
		w.WriteHeader(http.StatusOK)
	})

	f.srv = httptest.NewServer(mux)
	t.Cleanup(f.srv.Close)
	return f
}

func (f *fakeCoordinator) script(resp cluster.HeartbeatResponse) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.next = resp
}

func (f *fakeCoordinator) heartbeatCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.heartbeats)
}

func fastRegister(t *testing.T) {
	t.Helper()
	attempts, backoff := registerAttempts, registerBackoff
	registerAttempts, registerBackoff = 3, 5*time.Millisecond
	t.Cleanup(func() { registerAttempts, registerBackoff = attempts, backoff })
}

func newTestNode(t *testing.T, coord *fakeCoordinator, capacity int64) (*Node, *storage.MemoryStore) {
	t.Helper()
	store := storage.NewMemoryStore(capacity)
	n := NewNode(store, cluster.NewClient(coord.srv.URL), "127.0.0.1:9999", zerolog.New(zerolog.NewTestWriter(t)))
	return n, store
}

func TestNodeRegister(t *testing.T) {
	fastRegister(t)
	coord := newFakeCoordinator(t)
	coord.failRegister = 2
	n, _ := newTestNode(t, coord, 1024)

	require.NoError(t, n.Register(context.Background()))
	assert.Equal(t, "node-1", n.ID())

	require.Len(t, coord.registrations, 1)
	assert.Equal(t, cluster.RegisterRequest{NodeIP: "127.0.0.1:9999", TotalCapacity: 1024, AvailableCapacity: 1024}, coord.registrations[0])
}

func TestNodeRegisterGivesUp(t *testing.T) {
	fastRegister(t)
	coord := newFakeCoordinator(t)
	coord.failRegister = 10
	n, _ := newTestNode(t, coord, 1024)

	err := n.Register(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "register with coordinator")
	assert.Empty(t, n.ID())
}

func TestNodeRegisterCanceled(t *testing.T) {
	fastRegister(t)
	registerBackoff = time.Hour
	coord := newFakeCoordinator(t)
	coord.failRegister = 10
	n, _ := newTestNode(t, coord, 1024)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()
	assert.ErrorIs(t, n.Register(ctx), context.Canceled)
}

func TestNodeHeartbeatReportsManifest(t *testing.T) {
	coord := newFakeCoordinator(t)
	n, store := newTestNode(t, coord, 100)
	require.NoError(t, n.Register(context.Background()))
	require.NoError(t, store.Put("/b1", []byte("bb")))
	require.NoError(t, store.Put("/a0", []byte("aaa")))

	require.NoError(t, n.Heartbeat(context.Background()))

	require.Len(t, coord.heartbeats, 1)
	hb := coord.heartbeats[0]
	assert.Equal(t, "node-1", hb.NodeID)
	assert.Equal(t, []string{"/a0", "/b1"}, hb.Manifest)
	assert.Equal(t, int64(95), hb.AvailableCapacity)
}

func TestNodeHeartbeatAppliesDeletes(t *testing.T) {
	coord := newFakeCoordinator(t)
	n, store := newTestNode(t, coord, 100)
	require.NoError(t, n.Register(context.Background()))
	require.NoError(t, store.Put("/a0", []byte("a")))
	require.NoError(t, store.Put("/b0", []byte("b")))

	coord.script(cluster.HeartbeatResponse{Delete: []string{"/a0", "/gone0"}})
	require.NoError(t, n.Heartbeat(context.Background()))

	assert.Equal(t, []string{"/b0"}, store.List())
}

func TestNodeHeartbeatReplicatesFromPeer(t *testing.T) {
	coord := newFakeCoordinator(t)
	peerStore := storage.NewMemoryStore(100)
	require.NoError(t, peerStore.Put("/f0", []byte("data")))
	peer := NewNode(peerStore, cluster.NewClient(coord.srv.URL), "peer", zerolog.Nop())
	peerSrv := httptest.NewServer(peer.router())
	defer peerSrv.Close()

	n, store := newTestNode(t, coord, 100)
	require.NoError(t, n.Register(context.Background()))

	coord.script(cluster.HeartbeatResponse{Replicate: []cluster.ReplicateInstruction{
		{BlockID: "/f0", Nodes: []string{strings.TrimPrefix(peerSrv.URL, "http://")}},
		{BlockID: "/lost0", Nodes: []string{strings.TrimPrefix(peerSrv.URL, "http://")}},
	}})
	require.NoError(t, n.Heartbeat(context.Background()))

	data, err := store.Get("/f0")
	require.NoError(t, err)
	assert.Equal(t, "data", string(data))

	_, err = store.Get("/lost0")
	assert.ErrorIs(t, err, storage.ErrBlockNotFound)

	require.Len(t, coord.finalized, 1)
	assert.Equal(t, cluster.FinalizeRequest{BlockID: "/f0", Nodes: []string{"node-1"}}, coord.finalized[0])
}

func TestNodeHeartbeatReregistersWhenUnknown(t *testing.T) {
	coord := newFakeCoordinator(t)
	n, _ := newTestNode(t, coord, 100)
	require.NoError(t, n.Register(context.Background()))

	coord.mu.Lock()
	coord.unknown = true
	coord.mu.Unlock()

	require.NoError(t, n.Heartbeat(context.Background()))
	assert.Len(t, coord.registrations, 2)
	assert.Equal(t, "node-1", n.ID())
}

func TestNodeHeartbeatBeforeRegister(t *testing.T) {
	coord := newFakeCoordinator(t)
	n, _ := newTestNode(t, coord, 100)

	require.NoError(t, n.Heartbeat(context.Background()))
	assert.Len(t, coord.registrations, 1)
	assert.Zero(t, coord.heartbeatCount())
}

func TestNodeRun(t *testing.T) {
	coord := newFakeCoordinator(t)
	n, _ := newTestNode(t, coord, 100)
	require.NoError(t, n.Register(context.Background()))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		n.Run(ctx, 10*time.Millisecond)
		close(done)
	}()

	require.Eventually(t, func() bool { return coord.heartbeatCount() >= 3 }, 2*time.Second, 5*time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestBlockHandlers(t *testing.T) {
	coord := newFakeCoordinator(t)
	n, _ := newTestNode(t, coord, 10)
	srv := httptest.NewServer(n.router())
	defer srv.Close()

	do := func(method, query string, body []byte) (*http.Response, string) {
		req, err := http.NewRequest(method, srv.URL+"/blocks"+query, bytes.NewReader(body))
		require.NoError(t, err)
		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		defer resp.Body.Close()
		data, _ := io.ReadAll(resp.Body)
		return resp, string(data)
	}

	resp, _ := do(http.MethodPut, "?id=%2Fdir%2Ff0", []byte("hello"))
	assert.Equal(t, http.StatusCreated, resp.StatusCode)

	resp, body := do(http.MethodGet, "?id=%2Fdir%2Ff0", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/octet-stream", resp.Header.Get("Content-Type"))
	assert.Equal(t, "hello", body)

	resp, body = do(http.MethodGet, "", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `{"blocks":["/dir/f0"]}`, body)

	resp, _ = do(http.MethodPut, "?id=%2Fbig0", []byte("too large"))
	assert.Equal(t, http.StatusInsufficientStorage, resp.StatusCode)

	resp, _ = do(http.MethodPut, "", []byte("x"))
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	// Only canonical block ids are stored.
	for _, id := range []string{"%2F%2Fdir%2Ff0", "%2Fdir%2F.%2Ff0", "dir%2Ff0", "%2Fdir%2Ff"} {
		resp, _ = do(http.MethodPut, "?id="+id, []byte("x"))
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode, id)
	}
	resp, body = do(http.MethodGet, "", nil)
	assert.JSONEq(t, `{"blocks":["/dir/f0"]}`, body)

	resp, _ = do(http.MethodDelete, "?id=%2Fdir%2Ff0", nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp, _ = do(http.MethodGet, "?id=%2Fdir%2Ff0", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, _ = do(http.MethodDelete, "", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestHealthAndInfo(t *testing.T) {
	coord := newFakeCoordinator(t)
	n, store := newTestNode(t, coord, 100)
	require.NoError(t, n.Register(context.Background()))
	require.NoError(t, store.Put("/f0", []byte("1234")))

	srv := httptest.NewServer(n.router())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/health")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Get(srv.URL + "/info")
	require.NoError(t, err)
	defer resp.Body.Close()

	var info nodeInfo
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&info))
	assert.Equal(t, "node-1", info.NodeID)
	assert.Equal(t, "127.0.0.1:9999", info.Addr)
	assert.Equal(t, storage.StoreStats{Blocks: 1, Bytes: 4, Capacity: 100, Available: 96}, info.Store)
}
