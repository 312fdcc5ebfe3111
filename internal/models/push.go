package models

import (
	"encoding/json"
	"errors"

	"github.com/SherClockHolmes/webpush-go"
)

// PushEndpoint is the decoded form of one stored push endpoint blob. On the
// wire it is a three-element JSON array: the web push subscription, the
// VAPID public key and the VAPID private key. Each endpoint carries its own
// key pair because subscriptions are created against the user's home node,
// not against this observer.
type PushEndpoint struct {
	Subscription    webpush.Subscription
	VAPIDPublicKey  string
	VAPIDPrivateKey string
}

func (p PushEndpoint) MarshalJSON() ([]byte, error) {
	return json.Marshal([3]any{p.Subscription, p.VAPIDPublicKey, p.VAPIDPrivateKey})
}

func (p *PushEndpoint) UnmarshalJSON(data []byte) error {
	var parts [3]json.RawMessage
	if err := json.Unmarshal(data, &parts); err != nil {
		return err
	}
	if err := json.Unmarshal(parts[0], &p.Subscription); err != nil {
		return err
	}
	if err := json.Unmarshal(parts[1], &p.VAPIDPublicKey); err != nil {
		return err
	}
	if err := json.Unmarshal(parts[2], &p.VAPIDPrivateKey); err != nil {
		return err
	}
	if p.Subscription.Endpoint == "" || p.VAPIDPublicKey == "" || p.VAPIDPrivateKey == "" {
		return errors.New("incomplete push endpoint")
	}
	return nil
}
