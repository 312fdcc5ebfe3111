package observer

import (
	"context"
	"log"
	"slices"

	"github.com/dotsmesh/dotsmesh-observer-go/internal/envelope"
	"github.com/dotsmesh/dotsmesh-observer-go/internal/events"
	"github.com/dotsmesh/dotsmesh-observer-go/internal/metrics"
	"github.com/dotsmesh/dotsmesh-observer-go/internal/models"
)

// PendingQueue accumulates the notifications produced while handling one
// inbound request. The request owner creates it, hands it through the call
// chain and flushes it exactly once before finalizing the response; it is
// never shared between requests.
type PendingQueue struct {
	order    []string
	payloads map[string]any
}

func NewPendingQueue() *PendingQueue {
	return &PendingQueue{payloads: map[string]any{}}
}

// Add queues one notification for a user. A user already queued is not
// queued again; the first payload wins.
func (q *PendingQueue) Add(userID string, payload any) {
	if _, ok := q.payloads[userID]; ok {
		return
	}
	q.payloads[userID] = payload
	q.order = append(q.order, userID)
	metrics.NotificationsQueued.Inc()
}

func (q *PendingQueue) Len() int {
	return len(q.order)
}

// UserIDs returns the queued users in the order they were first queued.
func (q *PendingQueue) UserIDs() []string {
	return slices.Clone(q.order)
}

func (q *PendingQueue) reset() {
	q.order = nil
	q.payloads = map[string]any{}
}

// NotifyHostObservers resolves a "keys changed" event from host against the
// observer index and queues one notification per distinct observing user,
// no matter how many of the keys matched them. Unknown hosts and hosts
// nobody observes resolve to an empty index and queue nothing.
func (s *Service) NotifyHostObservers(ctx context.Context, host string, keys []string, q *PendingQueue) error {
	host = models.NormalizeHost(host)
	if !models.IsValidHost(host) {
		return nil
	}
	data, err := s.hosts.Get(ctx, host)
	if err != nil {
		return err
	}
	for _, userID := range data.UserIDsForKeys(keys) {
		q.Add(userID, nil)
	}
	return nil
}

// FlushQueue delivers every queued notification and empties the queue.
// Delivery is best effort and never fails the request that triggered it;
// the only state change is pruning endpoints the push service reports as
// expired, which can cascade into deleting a user whose last endpoint is
// gone.
func (s *Service) FlushQueue(ctx context.Context, q *PendingQueue) {
	for _, userID := range q.UserIDs() {
		payload := q.payloads[userID]

		rec, err := s.users.Get(ctx, userID)
		if err != nil {
			log.Printf("load user for push delivery: %v", err)
			continue
		}
		if rec == nil {
			continue
		}

		sessionIDs := make([]string, 0, len(rec.PushEndpoints))
		for sessionID := range rec.PushEndpoints {
			sessionIDs = append(sessionIDs, sessionID)
		}
		slices.Sort(sessionIDs)

		for _, sessionID := range sessionIDs {
			var endpoint models.PushEndpoint
			if err := envelope.UnpackInto(rec.PushEndpoints[sessionID], envelope.TagPushEndpoint, &endpoint); err != nil {
				log.Printf("decode push endpoint: %v", err)
				continue
			}

			var body []byte
			if payload != nil {
				packed, err := envelope.Pack(envelope.TagPushPayload, payload)
				if err != nil {
					log.Printf("pack push payload: %v", err)
					continue
				}
				body = []byte(packed)
			}

			result, err := s.sender.Send(ctx, endpoint, body)
			switch {
			case err != nil:
				metrics.PushDeliveries.WithLabelValues("fail").Inc()
				s.events.Log(events.UserPushNotification, "%s fail %v", userID, err)
			case result.Expired:
				metrics.PushDeliveries.WithLabelValues("expired").Inc()
				s.events.Log(events.UserPushNotification, "%s expired", userID)
				if err := s.deletePushEndpoint(ctx, userID, sessionID); err != nil {
					log.Printf("prune expired push endpoint: %v", err)
				}
			default:
				metrics.PushDeliveries.WithLabelValues("success").Inc()
				s.events.Log(events.UserPushNotification, "%s success", userID)
			}
		}
	}
	q.reset()
}
