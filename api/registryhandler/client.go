package registryhandler

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"

	"github.com/ruteri/custodian-auth-backend/api"
	"github.com/ruteri/custodian-auth-backend/interfaces"
	"github.com/ruteri/custodian-auth-backend/registry"
)

// Client talks to a remote registry. It serves both as the custodian
// directory and as the entry registrar for sign-up flows.
type Client struct {
	baseURL string
	client  *http.Client
}

// NewClient returns a registry client. Pass nil to use http.DefaultClient.
func NewClient(baseURL string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Client{baseURL: baseURL, client: httpClient}
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, resp.Body)
		return api.ErrorFromStatus(resp.StatusCode)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// Nodes returns the custodian directory.
func (c *Client) Nodes(ctx context.Context) ([]interfaces.NodeInfo, error) {
	var nodes []interfaces.NodeInfo
	if err := c.do(ctx, http.MethodGet, "/api/registry/nodes", nil, &nodes); err != nil {
		return nil, err
	}
	return nodes, nil
}

// Add submits a completed registration entry.
func (c *Client) Add(ctx context.Context, entry *registry.Entry) error {
	return c.do(ctx, http.MethodPost, "/api/registry/entries", entry, nil)
}

// Get fetches a user's registration entry.
func (c *Client) Get(ctx context.Context, user interfaces.UserID) (*registry.Entry, error) {
	var entry registry.Entry
	if err := c.do(ctx, http.MethodGet, "/api/registry/entries/"+user.String(), nil, &entry); err != nil {
		return nil, err
	}
	return &entry, nil
}
