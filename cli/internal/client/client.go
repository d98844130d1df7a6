package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/AstarVienna/irdb/internal/model"
)

// DefaultEndpoint is the public usage log endpoint
const DefaultEndpoint = "https://scopesim.univie.ac.at/InstPkgSvr/api.php"

// ErrNoRecord is returned when the server answered with an empty body
var ErrNoRecord = errors.New("server did not return a usage record")

// Client reports package downloads to the usage log endpoint
type Client struct {
	endpoint   string
	httpClient *http.Client
}

// errorResponse is the body sent with non-200 responses
type errorResponse struct {
	Error string `json:"error"`
}

// NewClient creates a new client for endpoint
func NewClient(endpoint string) *Client {
	if endpoint == "" {
		endpoint = DefaultEndpoint
	}
	return &Client{
		endpoint: endpoint,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// LogPackageUse reports a download of packageName and returns the record
// the server logged
func (c *Client) LogPackageUse(ctx context.Context, packageName string) (*model.UsageRecord, error) {
	u, err := url.Parse(c.endpoint)
	if err != nil {
		return nil, fmt.Errorf("invalid endpoint: %w", err)
	}
	q := u.Query()
	q.Set("package_name", packageName)
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode != http.StatusOK {
		var e errorResponse
		if json.Unmarshal(body, &e) == nil && e.Error != "" {
			return nil, fmt.Errorf("server returned status %d: %s", resp.StatusCode, e.Error)
		}
		return nil, fmt.Errorf("server returned status %d", resp.StatusCode)
	}

	if len(body) == 0 {
		return nil, ErrNoRecord
	}

	var rec model.UsageRecord
	if err := json.Unmarshal(body, &rec); err != nil {
		return nil, fmt.Errorf("failed to decode usage record: %w", err)
	}
	return &rec, nil
}
