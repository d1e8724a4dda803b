package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	FramesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "driver_agent", Name: "channel_frames_total", Help: "Message-channel frames received, by type"},
		[]string{"type"},
	)
	FramesUnknown = promauto.NewCounter(prometheus.CounterOpts{Namespace: "driver_agent", Name: "channel_frames_unknown_total", Help: "Frames with an unrecognized type tag"})

	ReconnectsTotal = promauto.NewCounter(prometheus.CounterOpts{Namespace: "driver_agent", Name: "channel_reconnects_total", Help: "Message-channel reconnect attempts"})
	ChannelUp       = promauto.NewGauge(prometheus.GaugeOpts{Namespace: "driver_agent", Name: "channel_up", Help: "1 while the message channel is connected"})

	OffersTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "driver_agent", Name: "offers_total", Help: "Order offers by outcome (accepted, declined, expired, ignored)"},
		[]string{"outcome"},
	)
	RidesCompleted = promauto.NewCounter(prometheus.CounterOpts{Namespace: "driver_agent", Name: "rides_completed_total", Help: "Rides finalized by this agent"})

	APIRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "driver_agent", Name: "api_requests_total", Help: "Backend API calls by operation and result"},
		[]string{"op", "result"},
	)

	LocationPushes = promauto.NewCounter(prometheus.CounterOpts{Namespace: "driver_agent", Name: "location_pushes_total", Help: "Position updates pushed to the backend"})

	NotificationsDropped = promauto.NewCounter(prometheus.CounterOpts{Namespace: "driver_agent", Name: "notifications_dropped_total", Help: "Notifications evicted because the center hit its cap"})
)
