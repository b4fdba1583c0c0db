package cluster

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// blockServer is a minimal storage node serving /blocks.
func blockServer(t *testing.T) (*httptest.Server, map[string][]byte) {
	t.Helper()
	var mu sync.Mutex
	blocks := make(map[string][]byte)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.URL.Query().Get("id")
		mu.Lock()
		defer mu.Unlock()
		switch r.Method {
		case http.MethodPut:
			data, _ := io.ReadAll(r.Body)
			blocks[id] = data
			w.WriteHeader(http.StatusCreated)
		case http.MethodGet:
			data, ok := blocks[id]
			if !ok {
				http.Error(w, "block not found", http.StatusNotFound)
				return
			}
			_, _ = w.Write(data)
		}
	}))
	t.Cleanup(srv.Close)
	return srv, blocks
}

func TestBlockURL(t *testing.T) {
	assert.Equal(t, "http://10.0.0.1:8081/blocks?id=%2Fa%2Fb+c0", BlockURL("10.0.0.1:8081", "/a/b c0"))
	assert.Equal(t, "https://node/blocks?id=%2Ff0", BlockURL("https://node/", "/f0"))
}

func TestPutAndGetBlock(t *testing.T) {
	srv, _ := blockServer(t)
	addr := strings.TrimPrefix(srv.URL, "http://")
	ctx := context.Background()

	require.NoError(t, PutBlock(ctx, addr, "/f0", []byte("payload")))

	data, err := GetBlock(ctx, addr, "/f0")
	require.NoError(t, err)
	assert.Equal(t, "payload", string(data))

	_, err = GetBlock(ctx, addr, "/missing0")
	var se *StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, http.StatusNotFound, se.Code)
	assert.Equal(t, "block not found", se.Message)
}

func TestFetchBlockFallsBack(t *testing.T) {
	empty, _ := blockServer(t)
	full, blocks := blockServer(t)
	blocks["/f0"] = []byte("copy")

	data, err := FetchBlock(context.Background(), []string{empty.URL, full.URL}, "/f0")
	require.NoError(t, err)
	assert.Equal(t, "copy", string(data))

	_, err = FetchBlock(context.Background(), []string{empty.URL}, "/f0")
	assert.Error(t, err)

	_, err = FetchBlock(context.Background(), nil, "/f0")
	assert.Error(t, err)
}
