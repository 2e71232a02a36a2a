package gateway

import (
	"context"
	"log"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"

	"minuteman/app/pkg/types"
)

// BusyReply is the single user-visible shape for persistence-level failures.
const BusyReply = "系統忙碌中，請稍後再試"

const (
	defaultMaxInFlight  = 32
	defaultEventTimeout = 60 * time.Second
)

// Dispatcher consumes one normalized inbound event and produces the response
// text, empty for silence.
type Dispatcher interface {
	Dispatch(ctx context.Context, msg types.Message) (string, error)
}

type DefaultGateway struct {
	dispatcher Dispatcher
	channels   map[string]types.Channel
	mu         sync.RWMutex

	workers      *semaphore.Weighted
	eventTimeout time.Duration

	processedMessages uint64
	failedMessages    uint64
	lastMessageUnix   atomic.Int64
	startedUnix       atomic.Int64
}

type HealthStatus struct {
	Started            bool
	StartedAt          time.Time
	RegisteredChannels []string
	ProcessedMessages  uint64
	FailedMessages     uint64
	LastMessageAt      time.Time
}

func NewGateway(dispatcher Dispatcher) *DefaultGateway {
	return &DefaultGateway{
		dispatcher:   dispatcher,
		channels:     make(map[string]types.Channel),
		workers:      semaphore.NewWeighted(defaultMaxInFlight),
		eventTimeout: defaultEventTimeout,
	}
}

func (g *DefaultGateway) SetEventTimeout(timeout time.Duration) {
	if timeout <= 0 {
		return
	}
	g.eventTimeout = timeout
}

func (g *DefaultGateway) RegisterChannel(c types.Channel) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.channels[c.ID()] = c
	log.Printf("[Gateway] Registered channel: %s", c.ID())
}

func (g *DefaultGateway) Start(ctx context.Context) error {
	g.startedUnix.Store(time.Now().Unix())

	// One bounded worker per inbound event. A stalled event (e.g. a slow
	// inference call) must not block events from other scopes.
	handler := func(msg types.Message) {
		if err := g.workers.Acquire(ctx, 1); err != nil {
			return
		}
		go func() {
			defer g.workers.Release(1)
			g.handleEvent(ctx, msg)
		}()
	}

	g.mu.RLock()
	channels := make([]types.Channel, 0, len(g.channels))
	for _, c := range g.channels {
		channels = append(channels, c)
	}
	g.mu.RUnlock()

	var wg sync.WaitGroup
	for _, c := range channels {
		c := c
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := c.Start(ctx, handler); err != nil {
				log.Printf("[Gateway] Channel %s stopped: %v", c.ID(), err)
			}
		}()
	}

	wg.Wait()
	return nil
}

// handleEvent is the single error boundary for one inbound event: every
// failure from the dispatcher's collaborators surfaces here and becomes the
// generic busy response.
func (g *DefaultGateway) handleEvent(parent context.Context, msg types.Message) {
	atomic.AddUint64(&g.processedMessages, 1)
	g.lastMessageUnix.Store(time.Now().Unix())

	ctx, cancel := context.WithTimeout(parent, g.eventTimeout)
	defer cancel()

	reply, err := g.dispatcher.Dispatch(ctx, msg)
	if err != nil {
		atomic.AddUint64(&g.failedMessages, 1)
		log.Printf("[Gateway] Dispatch failed for channel=%s user=%s: %v", msg.ChannelID, msg.UserID, err)
		reply = BusyReply
	}
	if reply == "" {
		return
	}
	g.send(ctx, msg, reply)
}

func (g *DefaultGateway) send(ctx context.Context, inbound types.Message, text string) {
	g.mu.RLock()
	channel, ok := g.channels[inbound.ChannelID]
	g.mu.RUnlock()
	if !ok {
		log.Printf("[Gateway] Unknown channel for reply: %s", inbound.ChannelID)
		return
	}

	out := types.Message{
		Content:   text,
		Role:      types.MessageRoleAssistant,
		ChannelID: inbound.ChannelID,
		Scope:     inbound.Scope,
		UserID:    inbound.UserID,
		RequestID: inbound.RequestID,
	}
	if err := channel.Send(ctx, out); err != nil {
		log.Printf("[Gateway] Send failed on channel=%s: %v", inbound.ChannelID, err)
	}
}

func (g *DefaultGateway) Health() HealthStatus {
	g.mu.RLock()
	names := make([]string, 0, len(g.channels))
	for id := range g.channels {
		names = append(names, id)
	}
	g.mu.RUnlock()
	sort.Strings(names)

	status := HealthStatus{
		RegisteredChannels: names,
		ProcessedMessages:  atomic.LoadUint64(&g.processedMessages),
		FailedMessages:     atomic.LoadUint64(&g.failedMessages),
	}
	if started := g.startedUnix.Load(); started > 0 {
		status.Started = true
		status.StartedAt = time.Unix(started, 0)
	}
	if last := g.lastMessageUnix.Load(); last > 0 {
		status.LastMessageAt = time.Unix(last, 0)
	}
	return status
}
