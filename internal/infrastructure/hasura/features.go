package hasura

import (
	"context"
	"encoding/base64"

	"github.com/atomcal/autopilot/internal/domain"
)

// FeaturesClient fires the downstream features-apply call for one window. It
// rides the same retrying client as every other outbound call; the downstream
// endpoint is idempotent per window, so a retried delivery is safe.
type FeaturesClient struct {
	client *Client
	url    string
}

func NewFeaturesClient(client *Client, url string) (*FeaturesClient, error) {
	if url == "" {
		return nil, domain.ConfigFault("features apply url is not configured")
	}
	return &FeaturesClient{client: client, url: url}, nil
}

func (f *FeaturesClient) Apply(ctx context.Context, window domain.WindowPayload) error {
	headers := map[string]string{
		"Content-Type":  "application/json",
		"Authorization": "Basic " + base64.StdEncoding.EncodeToString([]byte("admin:"+f.client.authToken)),
	}
	_, err := f.client.Do(ctx, f.url, window, headers, "FeaturesApply")
	return err
}
