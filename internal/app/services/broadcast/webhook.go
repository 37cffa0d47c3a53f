package broadcast

import (
	"context"

	"github.com/feedmesh/cachenode/internal/app/domain/datapackage"
	"github.com/feedmesh/cachenode/internal/httputil"
)

// WebhookSink POSTs accepted packages as JSON to a configured endpoint.
type WebhookSink struct {
	client *httputil.Client
	url    string
}

var _ Sink = (*WebhookSink)(nil)

// NewWebhookSink builds a sink delivering to url via the shared HTTP client.
func NewWebhookSink(client *httputil.Client, url string) *WebhookSink {
	if client == nil {
		client = httputil.NewClient(httputil.ClientConfig{})
	}
	return &WebhookSink{client: client, url: url}
}

func (s *WebhookSink) Name() string { return "webhook:" + s.url }

type webhookPayload struct {
	NodeAddress  string                      `json:"nodeAddress"`
	DataPackages []datapackage.CachedPackage `json:"dataPackages"`
}

func (s *WebhookSink) Broadcast(ctx context.Context, pkgs []datapackage.CachedPackage, nodeAddress string) error {
	return s.client.PostJSON(ctx, s.url, webhookPayload{
		NodeAddress:  nodeAddress,
		DataPackages: pkgs,
	})
}
