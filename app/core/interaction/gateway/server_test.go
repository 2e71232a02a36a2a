package gateway

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"minuteman/app/pkg/types"
)

type testChannel struct {
	id      string
	inbound []types.Message

	mu   sync.Mutex
	sent []types.Message
}

func (c *testChannel) Start(ctx context.Context, handler func(types.Message)) error {
	for _, msg := range c.inbound {
		msg.ChannelID = c.id
		handler(msg)
	}
	<-ctx.Done()
	return nil
}

func (c *testChannel) Send(_ context.Context, msg types.Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sent = append(c.sent, msg)
	return nil
}

func (c *testChannel) ID() string { return c.id }

func (c *testChannel) sentMessages() []types.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]types.Message, len(c.sent))
	copy(out, c.sent)
	return out
}

type testDispatcher struct {
	reply string
	err   error
}

func (d *testDispatcher) Dispatch(_ context.Context, msg types.Message) (string, error) {
	return d.reply, d.err
}

func waitForReply(t *testing.T, channel *testChannel) types.Message {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if sent := channel.sentMessages(); len(sent) > 0 {
			return sent[0]
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("timed out waiting for a reply")
	return types.Message{}
}

func startGateway(t *testing.T, gw *DefaultGateway) context.CancelFunc {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = gw.Start(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return cancel
}

func inboundMessage(userID string, text string) types.Message {
	return types.Message{
		Content:   text,
		Role:      types.MessageRoleUser,
		Scope:     types.Scope{Type: types.ScopeGroup, ID: "G"},
		UserID:    userID,
		RequestID: "req-1",
	}
}

func TestGatewayRoutesReplyToSourceChannel(t *testing.T) {
	channel := &testChannel{id: "test", inbound: []types.Message{inboundMessage("u1", "統計")}}
	gw := NewGateway(&testDispatcher{reply: "📊 任務統計"})
	gw.RegisterChannel(channel)
	startGateway(t, gw)

	reply := waitForReply(t, channel)
	if reply.Content != "📊 任務統計" {
		t.Fatalf("unexpected reply: %q", reply.Content)
	}
	if reply.Role != types.MessageRoleAssistant {
		t.Fatalf("reply must be assistant role, got %q", reply.Role)
	}
	if reply.RequestID != "req-1" {
		t.Fatalf("reply must carry the inbound request id, got %q", reply.RequestID)
	}
	if reply.Scope.Key() != "group:G" {
		t.Fatalf("reply must stay in the source scope, got %q", reply.Scope.Key())
	}
}

func TestGatewayDispatchErrorBecomesBusyReply(t *testing.T) {
	channel := &testChannel{id: "test", inbound: []types.Message{inboundMessage("u1", "統計")}}
	gw := NewGateway(&testDispatcher{err: errors.New("db locked")})
	gw.RegisterChannel(channel)
	startGateway(t, gw)

	reply := waitForReply(t, channel)
	if reply.Content != BusyReply {
		t.Fatalf("expected busy reply, got %q", reply.Content)
	}

	health := gw.Health()
	if health.FailedMessages != 1 {
		t.Fatalf("expected 1 failed message, got %d", health.FailedMessages)
	}
}

func TestGatewayEmptyReplyIsSilent(t *testing.T) {
	channel := &testChannel{id: "test", inbound: []types.Message{inboundMessage("u1", "今天天氣不錯")}}
	gw := NewGateway(&testDispatcher{reply: ""})
	gw.RegisterChannel(channel)
	startGateway(t, gw)

	deadline := time.Now().Add(500 * time.Millisecond)
	for time.Now().Before(deadline) {
		if gw.Health().ProcessedMessages > 0 {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if gw.Health().ProcessedMessages != 1 {
		t.Fatalf("event should be counted, got %d", gw.Health().ProcessedMessages)
	}
	if sent := channel.sentMessages(); len(sent) != 0 {
		t.Fatalf("silence must not send anything, got %v", sent)
	}
}

func TestGatewayHealthSnapshot(t *testing.T) {
	gw := NewGateway(&testDispatcher{})
	gw.RegisterChannel(&testChannel{id: "webhook"})
	gw.RegisterChannel(&testChannel{id: "cli"})

	health := gw.Health()
	if health.Started {
		t.Fatal("not started yet")
	}
	if len(health.RegisteredChannels) != 2 {
		t.Fatalf("expected 2 channels, got %v", health.RegisteredChannels)
	}
	if health.RegisteredChannels[0] != "cli" || health.RegisteredChannels[1] != "webhook" {
		t.Fatalf("channel names should be sorted, got %v", health.RegisteredChannels)
	}

	startGateway(t, gw)
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if gw.Health().Started {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if !gw.Health().Started {
		t.Fatal("gateway should report started")
	}
}
