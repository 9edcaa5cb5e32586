package nlu

import (
	"context"
	"errors"
	"fmt"

	"github.com/openfroyo/cloudpilot/pkg/engine"
	"github.com/openfroyo/cloudpilot/pkg/remote"
)

// ParsePath is the parse endpoint of the intent service.
const ParsePath = "/v1/parse"

type parseRequest struct {
	Text       string `json:"text"`
	RegionHint string `json:"region_hint,omitempty"`
}

type parseResponse struct {
	Intent *engine.Intent `json:"intent"`
}

// Client calls the remote intent service. Its output is not normalized;
// wrap it in a Parser.
type Client struct {
	remote *remote.Client
}

// NewClient returns a client over rc.
func NewClient(rc *remote.Client) *Client {
	return &Client{remote: rc}
}

// Parse implements engine.IntentParser.
func (c *Client) Parse(ctx context.Context, text, regionHint string) (*engine.Intent, error) {
	var resp parseResponse
	if err := c.remote.Post(ctx, "nlu.parse", ParsePath, parseRequest{Text: text, RegionHint: regionHint}, &resp); err != nil {
		return nil, fmt.Errorf("intent service: %w", err)
	}
	if resp.Intent == nil {
		return nil, errors.New("intent service returned no intent")
	}
	if resp.Intent.Source == "" {
		resp.Intent.Source = SourceRemote
	}
	return resp.Intent, nil
}
