package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	RPCRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "observer_rpc_requests_total",
		Help: "Inbound RPC calls by method and response status.",
	}, []string{"method", "status"})

	FederationNotices = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "observer_federation_notices_total",
		Help: "Outbound subscription-change notices to remote mesh nodes by outcome.",
	}, []string{"outcome"})

	PushDeliveries = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "observer_push_deliveries_total",
		Help: "Push notification delivery attempts by outcome.",
	}, []string{"outcome"})

	NotificationsQueued = promauto.NewCounter(prometheus.CounterOpts{
		Name: "observer_notifications_queued_total",
		Help: "User notifications queued by host change events.",
	})
)
