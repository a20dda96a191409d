package api

import (
	"context"
	"sync"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"election-sim/internal/election"
	"election-sim/internal/pubsub"
)

// HealthService is the service name whose status follows leader availability
const HealthService = "election"

// LeaderSource reports the unique active leader, if any
type LeaderSource interface {
	Leader() (election.NodeID, bool)
}

// HealthReporter publishes leader availability through the standard grpc.health.v1 service. HealthService is
// SERVING while exactly one active leader exists.
type HealthReporter struct {
	server   *health.Server
	source   LeaderSource
	pubSub   *pubsub.PubSubClient
	interval time.Duration
	logger   election.Logger

	// Protects serving
	mu sync.Mutex
	// last status logged for HealthService, nil before the first Update
	serving *bool
}

// NewHealthReporter creates a reporter for source. pubSub is optional: when set, leadership changes are reflected as
// soon as they are published instead of on the next interval.
func NewHealthReporter(source LeaderSource, pubSub *pubsub.PubSubClient, interval time.Duration, logger election.Logger) *HealthReporter {
	if logger == nil {
		logger = election.DefaultConfig().Logger
	}

	h := &HealthReporter{
		server:   health.NewServer(),
		source:   source,
		pubSub:   pubSub,
		interval: interval,
		logger:   logger,
	}
	h.server.SetServingStatus(HealthService, healthpb.HealthCheckResponse_NOT_SERVING)

	return h
}

// Register adds the health service to s
func (h *HealthReporter) Register(s *grpc.Server) {
	healthpb.RegisterHealthServer(s, h.server)
}

// Update sets the status of HealthService from the current leader.
func (h *HealthReporter) Update() {
	leader, ok := h.source.Leader()

	status := healthpb.HealthCheckResponse_NOT_SERVING
	if ok {
		status = healthpb.HealthCheckResponse_SERVING
	}
	h.server.SetServingStatus(HealthService, status)

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.serving == nil || *h.serving != ok {
		if ok {
			h.logger.Infof("[HEALTH] %s is serving, leader is node %v", HealthService, leader)
		} else {
			h.logger.Warnf("[HEALTH] %s is not serving, no leader", HealthService)
		}
		h.serving = &ok
	}
}

// Run keeps the health status current until ctx is cancelled. It should be called as a goroutine.
func (h *HealthReporter) Run(ctx context.Context) {
	var (
		electedCh  chan *pubsub.Event[election.NodeEvent]
		followedCh chan *pubsub.Event[election.NodeEvent]
		crashedCh  chan *pubsub.Event[election.NodeEvent]
	)

	if h.pubSub != nil {
		electedCh = make(chan *pubsub.Event[election.NodeEvent], 16)
		followedCh = make(chan *pubsub.Event[election.NodeEvent], 16)
		crashedCh = make(chan *pubsub.Event[election.NodeEvent], 16)

		subscriptions := map[pubsub.EventType]pubsub.SubscriberID{
			election.LeaderElected:  pubsub.Subscribe(h.pubSub, election.LeaderElected, electedCh, pubsub.SubscriptionOptions{IsBlocking: false}),
			election.LeaderFollowed: pubsub.Subscribe(h.pubSub, election.LeaderFollowed, followedCh, pubsub.SubscriptionOptions{IsBlocking: false}),
			election.NodeCrashed:    pubsub.Subscribe(h.pubSub, election.NodeCrashed, crashedCh, pubsub.SubscriptionOptions{IsBlocking: false}),
		}
		defer func() {
			for eventType, id := range subscriptions {
				h.pubSub.Unsubscribe(eventType, id)
			}
		}()
	}

	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	h.logger.Debugf("[JOB] started health reporter for %s", HealthService)

	for {
		h.Update()

		select {
		case <-ctx.Done():
			h.logger.Debugf("[JOB] stopping health reporter: %v", ctx.Err())
			return
		case <-ticker.C:
		case <-electedCh:
		case <-followedCh:
		case <-crashedCh:
		}
	}
}

// Shutdown marks every service NOT_SERVING. Later updates are ignored.
func (h *HealthReporter) Shutdown() {
	h.server.Shutdown()
}
