package cluster

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestHeartbeatResponseWireFormat checks the field names storage nodes parse.
func TestHeartbeatResponseWireFormat(t *testing.T) {
	resp := HeartbeatResponse{
		Delete: []string{"/f1"},
		Replicate: []ReplicateInstruction{
			{BlockID: "/f0", Nodes: []string{"10.0.0.2:8081"}},
		},
	}

	data, err := json.Marshal(resp)
	require.NoError(t, err)
	assert.JSONEq(t, `{"delete":["/f1"],"replicate":[{"block_id":"/f0","nodes":["10.0.0.2:8081"]}]}`, string(data))
}

// TestNodeInfoWireFormat checks the field names of the cluster query.
func TestNodeInfoWireFormat(t *testing.T) {
	node := NodeInfo{
		ID:                "n1",
		IP:                "10.0.0.1:8081",
		Status:            StatusAlive,
		TotalCapacity:     100,
		AvailableCapacity: 40,
	}

	data, err := json.Marshal(node)
	if err != nil {
		t.Fatalf("Failed to marshal NodeInfo: %v", err)
	}

	var jsonMap map[string]any
	if err := json.Unmarshal(data, &jsonMap); err != nil {
		t.Fatalf("Failed to unmarshal JSON: %v", err)
	}
	for _, field := range []string{"id", "ip", "status", "total_capacity", "available_capacity", "last_heartbeat"} {
		if _, ok := jsonMap[field]; !ok {
			t.Errorf("Missing %s field", field)
		}
	}
	if jsonMap["status"] != "alive" {
		t.Errorf("Expected status 'alive', got %v", jsonMap["status"])
	}
}

func TestPostJSON(t *testing.T) {
	tests := []struct {
		name           string
		serverResponse int
		serverBody     string
		requestBody    any
		responseBody   any
		expectError    bool
		expectStatus   int
		contextTimeout bool
	}{
		{
			name:           "successful POST with response",
			serverResponse: http.StatusOK,
			serverBody:     `{"node_id":"abc"}`,
			requestBody:    RegisterRequest{NodeIP: "10.0.0.1:8081"},
			responseBody:   &RegisterResponse{},
		},
		{
			name:           "successful POST without response body",
			serverResponse: http.StatusNoContent,
			requestBody:    FinalizeRequest{BlockID: "/f0"},
		},
		{
			name:           "conflict carries error message",
			serverResponse: http.StatusConflict,
			serverBody:     `{"error":"type conflict"}`,
			requestBody:    WriteRequest{FilePath: "/d"},
			expectError:    true,
			expectStatus:   http.StatusConflict,
		},
		{
			name:           "server error without body",
			serverResponse: http.StatusInternalServerError,
			requestBody:    WriteRequest{FilePath: "/d"},
			expectError:    true,
			expectStatus:   http.StatusInternalServerError,
		},
		{
			name:           "context timeout",
			serverResponse: http.StatusOK,
			serverBody:     `{}`,
			requestBody:    HeartbeatRequest{NodeID: "n"},
			expectError:    true,
			contextTimeout: true,
		},
		{
			name:           "unmarshalable request body",
			serverResponse: http.StatusOK,
			requestBody:    make(chan int),
			expectError:    true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, http.MethodPost, r.Method)
				assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

				if tt.contextTimeout {
					time.Sleep(100 * time.Millisecond)
				}
				w.WriteHeader(tt.serverResponse)
				if tt.serverBody != "" {
					_, _ = w.Write([]byte(tt.serverBody))
				}
			}))
			defer server.Close()

			ctx := context.Background()
			if tt.contextTimeout {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, time.Millisecond)
				defer cancel()
			}

			err := PostJSON(ctx, server.URL, tt.requestBody, tt.responseBody)
			if !tt.expectError {
				require.NoError(t, err)
				if out, ok := tt.responseBody.(*RegisterResponse); ok {
					assert.Equal(t, "abc", out.NodeID)
				}
				return
			}

			require.Error(t, err)
			if tt.expectStatus != 0 {
				var se *StatusError
				require.True(t, errors.As(err, &se))
				assert.Equal(t, tt.expectStatus, se.Code)
			}
		})
	}
}

func TestStatusErrorMessage(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"error":"not found: \"/x\""}`))
	}))
	defer server.Close()

	err := GetJSON(context.Background(), server.URL+"/read?path=/x", &ReadResponse{})

	var se *StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, http.StatusNotFound, se.Code)
	assert.Equal(t, `not found: "/x"`, se.Message)
	assert.Contains(t, se.Error(), "404")
}

func TestJSONInvalidURL(t *testing.T) {
	ctx := context.Background()

	if err := PostJSON(ctx, "://invalid-url", map[string]string{}, nil); err == nil {
		t.Error("Expected error for invalid URL, got none")
	}
	if err := GetJSON(ctx, "http://localhost:99999", nil); err == nil {
		t.Error("Expected error for unreachable server, got none")
	}
	if err := DeleteJSON(ctx, "http://localhost:99999", nil); err == nil {
		t.Error("Expected error for unreachable server, got none")
	}
}

func TestHTTPClient(t *testing.T) {
	if httpClient.Timeout != 5*time.Second {
		t.Errorf("Expected HTTP client timeout of 5s, got %v", httpClient.Timeout)
	}
}
