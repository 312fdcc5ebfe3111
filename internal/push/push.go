// Package push delivers notification payloads to web push endpoints.
package push

import (
	"context"
	"fmt"
	"net/http"

	"github.com/SherClockHolmes/webpush-go"

	"github.com/dotsmesh/dotsmesh-observer-go/internal/models"
)

// Result of one delivery attempt.
type Result struct {
	// Expired means the push service reported the endpoint as gone; the
	// stored endpoint should be pruned.
	Expired bool
}

// Sender delivers a payload to one push endpoint.
type Sender interface {
	Send(ctx context.Context, endpoint models.PushEndpoint, payload []byte) (Result, error)
}

// WebPushSender sends through the standard web push protocol using the
// VAPID key pair carried by each endpoint.
type WebPushSender struct {
	ownHost string
}

func NewWebPushSender(ownHost string) *WebPushSender {
	return &WebPushSender{ownHost: ownHost}
}

func (s *WebPushSender) Send(ctx context.Context, endpoint models.PushEndpoint, payload []byte) (Result, error) {
	resp, err := webpush.SendNotificationWithContext(ctx, payload, &endpoint.Subscription, &webpush.Options{
		Subscriber:      "https://dotsmesh." + s.ownHost,
		VAPIDPublicKey:  endpoint.VAPIDPublicKey,
		VAPIDPrivateKey: endpoint.VAPIDPrivateKey,
		TTL:             30,
	})
	if err != nil {
		return Result{}, err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusGone:
		return Result{Expired: true}, nil
	case resp.StatusCode >= 300:
		return Result{}, fmt.Errorf("push service status %d", resp.StatusCode)
	}
	return Result{}, nil
}
