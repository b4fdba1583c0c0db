package cluster

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// NodeStatus is the liveness state of a registered storage node.
type NodeStatus string

const (
	// StatusAlive means the node has heartbeated recently.
	StatusAlive NodeStatus = "alive"
	// StatusDead means the node missed enough heartbeats to be evicted.
	StatusDead NodeStatus = "dead"
)

// NodeInfo is the directory's view of one storage node.
type NodeInfo struct {
	LastHeartbeat     time.Time  `json:"last_heartbeat"`
	ID                string     `json:"id"`
	IP                string     `json:"ip"`
	Status            NodeStatus `json:"status"`
	TotalCapacity     int64      `json:"total_capacity"`
	AvailableCapacity int64      `json:"available_capacity"`
}

// Target is a write or replication destination.
type Target struct {
	NodeID string `json:"node_id"`
	IP     string `json:"ip"`
}

type RegisterRequest struct {
	NodeIP            string `json:"node_ip"`
	TotalCapacity     int64  `json:"total_capacity"`
	AvailableCapacity int64  `json:"available_capacity"`
}

type RegisterResponse struct {
	NodeID string `json:"node_id"`
}

// HeartbeatRequest carries a node's capacity and block manifest.
type HeartbeatRequest struct {
	NodeID            string   `json:"node_id"`
	Manifest          []string `json:"manifest"`
	AvailableCapacity int64    `json:"available_capacity"`
}

// ReplicateInstruction tells a node to copy BlockID from one of Nodes.
type ReplicateInstruction struct {
	BlockID string   `json:"block_id"`
	Nodes   []string `json:"nodes"`
}

// HeartbeatResponse lists corrective instructions, each sorted by block id.
type HeartbeatResponse struct {
	Delete    []string               `json:"delete"`
	Replicate []ReplicateInstruction `json:"replicate"`
}

type WriteRequest struct {
	FilePath  string `json:"file_path"`
	NumBlocks int    `json:"num_blocks"`
}

type WriteResponse struct {
	Nodes []Target `json:"nodes"`
}

type FinalizeRequest struct {
	BlockID string   `json:"block_id"`
	Nodes   []string `json:"nodes"`
}

// BlockReplicas is one entry of a read manifest: a block and the addresses
// of the nodes that hold it.
type BlockReplicas struct {
	BlockID string   `json:"block_id"`
	Nodes   []string `json:"nodes"`
}

type ReadResponse struct {
	Blocks []BlockReplicas `json:"blocks"`
}

type DirectoryRequest struct {
	Path string `json:"path"`
}

type ClusterResponse struct {
	Nodes []NodeInfo `json:"nodes"`
}

// ErrorResponse is the body of every non-2xx coordinator response.
type ErrorResponse struct {
	Error string `json:"error"`
}

// StatusError is returned by the JSON helpers for non-2xx responses.
type StatusError struct {
	URL     string
	Message string
	Code    int
}

func (e *StatusError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("http %s: %d: %s", e.URL, e.Code, e.Message)
	}
	return fmt.Sprintf("http %s: %d", e.URL, e.Code)
}

var httpClient = &http.Client{Timeout: 5 * time.Second}

func PostJSON(ctx context.Context, url string, body any, out any) error {
	return doJSON(ctx, http.MethodPost, url, body, out)
}

func GetJSON(ctx context.Context, url string, out any) error {
	return doJSON(ctx, http.MethodGet, url, nil, out)
}

func DeleteJSON(ctx context.Context, url string, out any) error {
	return doJSON(ctx, http.MethodDelete, url, nil, out)
}

func doJSON(ctx context.Context, method, url string, body any, out any) error {
	var reader io.Reader
	if body != nil {
		reqBody, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(reqBody)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		var e ErrorResponse
		_ = json.NewDecoder(resp.Body).Decode(&e)
		return &StatusError{URL: url, Code: resp.StatusCode, Message: e.Error}
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
