package cluster

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
)

// BlockURL returns the storage-node URL for a block. addr is the node's
// host:port as reported by the coordinator.
func BlockURL(addr, blockID string) string {
	if !strings.HasPrefix(addr, "http://") && !strings.HasPrefix(addr, "https://") {
		addr = "http://" + addr
	}
	return strings.TrimRight(addr, "/") + "/blocks?id=" + url.QueryEscape(blockID)
}

// GetBlock downloads a block from the storage node at addr.
func GetBlock(ctx context.Context, addr, blockID string) ([]byte, error) {
	u := BlockURL(addr, blockID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	resp, err := httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, &StatusError{URL: u, Code: resp.StatusCode, Message: strings.TrimSpace(string(msg))}
	}
	return io.ReadAll(resp.Body)
}

// PutBlock uploads a block to the storage node at addr.
func PutBlock(ctx context.Context, addr, blockID string, data []byte) error {
	u := BlockURL(addr, blockID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, u, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/octet-stream")

	resp, err := httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return &StatusError{URL: u, Code: resp.StatusCode, Message: strings.TrimSpace(string(msg))}
	}
	return nil
}

// FetchBlock tries each peer in order and returns the first successful copy.
func FetchBlock(ctx context.Context, peers []string, blockID string) ([]byte, error) {
	if len(peers) == 0 {
		return nil, fmt.Errorf("no peers hold %s", blockID)
	}
	var lastErr error
	for _, addr := range peers {
		data, err := GetBlock(ctx, addr, blockID)
		if err == nil {
			return data, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			break
		}
	}
	return nil, fmt.Errorf("fetch %s: %w", blockID, lastErr)
}
