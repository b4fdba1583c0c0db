package cluster

import (
	"context"
	"net/url"
	"strings"
)

// Client calls the coordinator's HTTP API. It is used by storage nodes for
// registration, heartbeats and finalize, and by tools acting as filesystem
// clients for write, read and delete.
type Client struct {
	base string
}

// NewClient returns a client for the coordinator at base, e.g.
// "http://127.0.0.1:8080". A missing scheme defaults to http.
func NewClient(base string) *Client {
	if !strings.HasPrefix(base, "http://") && !strings.HasPrefix(base, "https://") {
		base = "http://" + base
	}
	return &Client{base: strings.TrimRight(base, "/")}
}

func (c *Client) Register(ctx context.Context, req RegisterRequest) (string, error) {
	var resp RegisterResponse
	if err := PostJSON(ctx, c.base+"/register", req, &resp); err != nil {
		return "", err
	}
	return resp.NodeID, nil
}

func (c *Client) Heartbeat(ctx context.Context, req HeartbeatRequest) (*HeartbeatResponse, error) {
	var resp HeartbeatResponse
	if err := PostJSON(ctx, c.base+"/heartbeat", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *Client) Write(ctx context.Context, path string, numBlocks int) ([]Target, error) {
	var resp WriteResponse
	req := WriteRequest{FilePath: path, NumBlocks: numBlocks}
	if err := PostJSON(ctx, c.base+"/write", req, &resp); err != nil {
		return nil, err
	}
	return resp.Nodes, nil
}

func (c *Client) Finalize(ctx context.Context, blockID string, nodes []string) error {
	return PostJSON(ctx, c.base+"/finalize", FinalizeRequest{BlockID: blockID, Nodes: nodes}, nil)
}

func (c *Client) Read(ctx context.Context, path string) ([]BlockReplicas, error) {
	var resp ReadResponse
	if err := GetJSON(ctx, c.base+"/read?path="+url.QueryEscape(path), &resp); err != nil {
		return nil, err
	}
	return resp.Blocks, nil
}

func (c *Client) Delete(ctx context.Context, path string) error {
	return DeleteJSON(ctx, c.base+"/files?path="+url.QueryEscape(path), nil)
}

func (c *Client) Nodes(ctx context.Context) ([]NodeInfo, error) {
	var resp ClusterResponse
	if err := GetJSON(ctx, c.base+"/nodes", &resp); err != nil {
		return nil, err
	}
	return resp.Nodes, nil
}
