// Package adminclient is a small Go SDK for entgldbctl to talk to one
// node's admin HTTP surface: document reads/writes and peer-registry
// management.
package adminclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"entgldb/internal/model"
)

// Client talks to exactly one node. It has no idea there are other
// nodes in the cluster — anti-entropy is the server's job, not the
// client's.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// New creates a Client bound to baseURL, e.g. "http://localhost:8080".
func New(baseURL string, timeout time.Duration) *Client {
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	return &Client{baseURL: baseURL, httpClient: &http.Client{Timeout: timeout}}
}

// ErrNotFound is returned by Get when the document does not exist.
var ErrNotFound = fmt.Errorf("not found")

// APIError carries the HTTP status and message from a non-2xx response.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("HTTP %d: %s", e.Status, e.Message)
}

func checkStatus(resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	body, _ := io.ReadAll(resp.Body)
	var apiErr struct {
		Error string `json:"error"`
	}
	_ = json.Unmarshal(body, &apiErr)
	msg := apiErr.Error
	if msg == "" {
		msg = string(body)
	}
	return &APIError{Status: resp.StatusCode, Message: msg}
}

// ─── Documents ────────────────────────────────────────────────────────────────

// Get fetches one document. Returns ErrNotFound if it doesn't exist or
// is a tombstone.
func (c *Client) Get(ctx context.Context, collection, key string) (model.Document, error) {
	var doc model.Document
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		fmt.Sprintf("%s/documents/%s/%s", c.baseURL, collection, key), nil)
	if err != nil {
		return doc, err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return doc, err
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusNotFound {
		return doc, ErrNotFound
	}
	if err := checkStatus(resp); err != nil {
		return doc, err
	}
	return doc, json.NewDecoder(resp.Body).Decode(&doc)
}

// Keys lists every key in a collection.
func (c *Client) Keys(ctx context.Context, collection string) ([]string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		fmt.Sprintf("%s/documents/%s", c.baseURL, collection), nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if err := checkStatus(resp); err != nil {
		return nil, err
	}
	var out struct {
		Keys []string `json:"keys"`
	}
	return out.Keys, json.NewDecoder(resp.Body).Decode(&out)
}

// Put stores content at (collection, key).
func (c *Client) Put(ctx context.Context, collection, key string, content json.RawMessage) (model.Document, error) {
	var doc model.Document
	req, err := http.NewRequestWithContext(ctx, http.MethodPut,
		fmt.Sprintf("%s/documents/%s/%s", c.baseURL, collection, key), bytes.NewReader(content))
	if err != nil {
		return doc, err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return doc, err
	}
	defer resp.Body.Close()
	if err := checkStatus(resp); err != nil {
		return doc, err
	}
	return doc, json.NewDecoder(resp.Body).Decode(&doc)
}

// Delete tombstones (collection, key).
func (c *Client) Delete(ctx context.Context, collection, key string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete,
		fmt.Sprintf("%s/documents/%s/%s", c.baseURL, collection, key), nil)
	if err != nil {
		return err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return checkStatus(resp)
}

// ─── Peers ────────────────────────────────────────────────────────────────────

// ListPeers returns the node's current peer registry.
func (c *Client) ListPeers(ctx context.Context) ([]model.RemotePeer, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/peers", nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if err := checkStatus(resp); err != nil {
		return nil, err
	}
	var out struct {
		Peers []model.RemotePeer `json:"peers"`
	}
	return out.Peers, json.NewDecoder(resp.Body).Decode(&out)
}

// AddPeer registers nodeID@address as a static remote peer.
func (c *Client) AddPeer(ctx context.Context, nodeID, address string) error {
	body, _ := json.Marshal(model.RemotePeer{NodeID: nodeID, Address: address, Type: model.PeerStaticRemote, Enabled: true})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/peers", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return checkStatus(resp)
}

// RemovePeer disables a peer by node_id.
func (c *Client) RemovePeer(ctx context.Context, nodeID string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, c.baseURL+"/peers/"+nodeID, nil)
	if err != nil {
		return err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return checkStatus(resp)
}

// Status returns the raw JSON from GET /status, left as a map since its
// shape (peer statuses, counters) is operator-facing rather than a
// stable wire contract.
func (c *Client) Status(ctx context.Context) (map[string]any, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/status", nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if err := checkStatus(resp); err != nil {
		return nil, err
	}
	var out map[string]any
	return out, json.NewDecoder(resp.Body).Decode(&out)
}
