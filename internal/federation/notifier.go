// Package federation tells other mesh nodes which keys this node started or
// stopped observing. Deliveries are best effort: the local index update has
// already committed, so failures are logged and dropped.
package federation

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/dotsmesh/dotsmesh-observer-go/internal/events"
	"github.com/dotsmesh/dotsmesh-observer-go/internal/metrics"
)

const requestTimeout = 20 * time.Second

// Notifier delivers observed-key diffs to a remote mesh node.
type Notifier interface {
	NotifySubscriptionChange(ctx context.Context, remoteHost string, keysToAdd, keysToRemove []string)
}

type rpcRequest struct {
	Method  string         `json:"method"`
	Args    any            `json:"args"`
	Options map[string]any `json:"options"`
}

type rpcResponse struct {
	Status  string          `json:"status"`
	Result  json.RawMessage `json:"result"`
	Code    string          `json:"code"`
	Message string          `json:"message"`
}

type subscriptionArgs struct {
	Host         string   `json:"host"`
	KeysToAdd    []string `json:"keysToAdd"`
	KeysToRemove []string `json:"keysToRemove"`
}

// HTTPNotifier posts host.changes.subscription calls to remote nodes.
type HTTPNotifier struct {
	ownHost string
	client  *http.Client
	events  *events.Logger

	// EndpointURL builds the API URL for a remote host. Overridable in
	// tests.
	EndpointURL func(host string) string
}

// NewHTTPNotifier builds a notifier that identifies itself as ownHost.
// devMode disables TLS verification for meshes running on self-signed
// certificates.
func NewHTTPNotifier(ownHost string, devMode bool, ev *events.Logger) *HTTPNotifier {
	client := &http.Client{Timeout: requestTimeout}
	if devMode {
		client.Transport = &http.Transport{
			TLSClientConfig: &tls.Config{InsecureSkipVerify: true},
		}
	}
	return &HTTPNotifier{
		ownHost: ownHost,
		client:  client,
		events:  ev,
		EndpointURL: func(host string) string {
			return "https://dotsmesh." + host + "/?host&api"
		},
	}
}

// NotifySubscriptionChange sends one diff to one remote host. Errors are
// logged, counted and otherwise ignored; there is no retry.
func (n *HTTPNotifier) NotifySubscriptionChange(ctx context.Context, remoteHost string, keysToAdd, keysToRemove []string) {
	if keysToAdd == nil {
		keysToAdd = []string{}
	}
	if keysToRemove == nil {
		keysToRemove = []string{}
	}
	err := n.send(ctx, remoteHost, keysToAdd, keysToRemove)
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	metrics.FederationNotices.WithLabelValues(outcome).Inc()
	n.events.Log(events.HostChangesSubscription, "%s add=%v remove=%v result=%v", remoteHost, keysToAdd, keysToRemove, err)
}

func (n *HTTPNotifier) send(ctx context.Context, remoteHost string, keysToAdd, keysToRemove []string) error {
	body, err := json.Marshal(rpcRequest{
		Method: "host.changes.subscription",
		Args: subscriptionArgs{
			Host:         n.ownHost,
			KeysToAdd:    keysToAdd,
			KeysToRemove: keysToRemove,
		},
		Options: map[string]any{},
	})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.EndpointURL(remoteHost), bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "Dots Mesh Observer")

	resp, err := n.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("remote status %d", resp.StatusCode)
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	var result rpcResponse
	if err := json.Unmarshal(raw, &result); err != nil {
		return fmt.Errorf("response error: %s", raw)
	}
	switch result.Status {
	case "ok":
		return nil
	case "error":
		return fmt.Errorf("remote error %s: %s", result.Code, result.Message)
	default:
		return fmt.Errorf("response error: %s", raw)
	}
}
