package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/tidwall/sjson"

	"minuteman/app/core/orchestrator/task"
	"minuteman/app/pkg/types"
)

const (
	defaultResponseTimeout = 60 * time.Second
	defaultShutdownTimeout = 5 * time.Second
)

type Config struct {
	Port            int
	PushURL         string
	PushToken       string
	ResponseTimeout time.Duration
}

// Channel receives normalized inbound chat events over HTTP and answers each
// one synchronously with the response payload (or silence). Transport
// validation of the upstream webhook is the platform adapter's concern.
type Channel struct {
	cfg     Config
	id      string
	server  *http.Server
	handler func(types.Message)

	pendingMu sync.Mutex
	pending   map[string]chan string

	httpClient *http.Client
}

func NewChannel(cfg Config) *Channel {
	if cfg.ResponseTimeout <= 0 {
		cfg.ResponseTimeout = defaultResponseTimeout
	}
	return &Channel{
		cfg:        cfg,
		id:         "webhook",
		pending:    map[string]chan string{},
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
}

func (c *Channel) ID() string {
	return c.id
}

func (c *Channel) Start(ctx context.Context, handler func(types.Message)) error {
	c.handler = handler

	mux := http.NewServeMux()
	mux.HandleFunc("/webhook/events", c.handleEvent)
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})

	c.server = &http.Server{
		Addr:    fmt.Sprintf(":%d", c.cfg.Port),
		Handler: mux,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), defaultShutdownTimeout)
		defer cancel()
		if err := c.server.Shutdown(shutdownCtx); err != nil {
			log.Printf("[Webhook] Shutdown error: %v", err)
		}
	}()

	log.Printf("[Webhook] Listening on port %d...", c.cfg.Port)
	if err := c.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Send resolves the pending request that produced the reply. Replies without
// a waiting request are dropped.
func (c *Channel) Send(ctx context.Context, msg types.Message) error {
	if strings.TrimSpace(msg.RequestID) == "" {
		log.Printf("[Webhook] Outgoing message without request id: %s", msg.Content)
		return nil
	}

	c.pendingMu.Lock()
	ch, ok := c.pending[msg.RequestID]
	c.pendingMu.Unlock()
	if !ok {
		log.Printf("[Webhook] Pending request not found: %s", msg.RequestID)
		return nil
	}

	select {
	case ch <- msg.Content:
	default:
	}
	return nil
}

type inboundEvent struct {
	ScopeType   string `json:"scope_type"`
	ScopeID     string `json:"scope_id"`
	UserID      string `json:"user_id"`
	DisplayName string `json:"display_name,omitempty"`
	Text        string `json:"text"`
}

type eventResponse struct {
	Reply *string `json:"reply"`
}

func (c *Channel) handleEvent(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var ev inboundEvent
	if err := json.NewDecoder(r.Body).Decode(&ev); err != nil {
		http.Error(w, "invalid payload", http.StatusBadRequest)
		return
	}
	scopeType := types.ScopeType(strings.TrimSpace(ev.ScopeType))
	if scopeType != types.ScopeUser && scopeType != types.ScopeGroup && scopeType != types.ScopeRoom {
		http.Error(w, "invalid scope_type", http.StatusBadRequest)
		return
	}
	if strings.TrimSpace(ev.ScopeID) == "" || strings.TrimSpace(ev.UserID) == "" {
		http.Error(w, "scope_id and user_id are required", http.StatusBadRequest)
		return
	}

	requestID := uuid.NewString()
	replyCh := make(chan string, 1)
	c.pendingMu.Lock()
	c.pending[requestID] = replyCh
	c.pendingMu.Unlock()
	defer func() {
		c.pendingMu.Lock()
		delete(c.pending, requestID)
		c.pendingMu.Unlock()
	}()

	c.handler(types.Message{
		ID:          uuid.NewString(),
		Content:     ev.Text,
		Role:        types.MessageRoleUser,
		ChannelID:   c.id,
		Scope:       types.Scope{Type: scopeType, ID: strings.TrimSpace(ev.ScopeID)},
		UserID:      strings.TrimSpace(ev.UserID),
		DisplayName: strings.TrimSpace(ev.DisplayName),
		RequestID:   requestID,
	})

	w.Header().Set("Content-Type", "application/json")
	select {
	case reply := <-replyCh:
		_ = json.NewEncoder(w).Encode(eventResponse{Reply: &reply})
	case <-time.After(c.cfg.ResponseTimeout):
		_ = json.NewEncoder(w).Encode(eventResponse{})
	case <-r.Context().Done():
	}
}

// NotifyOverdue pushes one overdue reminder to the scope that owns the task.
func (c *Channel) NotifyOverdue(ctx context.Context, t task.Task) error {
	var b strings.Builder
	b.WriteString("⏰ 任務逾期提醒：")
	b.WriteString(t.Content)
	if t.AssigneeName != "" {
		b.WriteString(" @" + t.AssigneeName)
	}
	b.WriteString("（" + t.DueDate + " 前）")
	return c.Push(ctx, t.Scope, b.String())
}

// Push delivers a proactive message through the configured push endpoint.
func (c *Channel) Push(ctx context.Context, scope types.Scope, text string) error {
	if strings.TrimSpace(c.cfg.PushURL) == "" {
		return fmt.Errorf("webhook: push url is not configured")
	}

	body, err := sjson.Set("", "to.scope_type", string(scope.Type))
	if err != nil {
		return err
	}
	if body, err = sjson.Set(body, "to.scope_id", scope.ID); err != nil {
		return err
	}
	if body, err = sjson.Set(body, "messages.0.type", "text"); err != nil {
		return err
	}
	if body, err = sjson.Set(body, "messages.0.text", text); err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.PushURL, bytes.NewReader([]byte(body)))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if strings.TrimSpace(c.cfg.PushToken) != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.PushToken)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(resp.Body)
	if resp.StatusCode >= 300 {
		return fmt.Errorf("webhook: push status=%d body=%s", resp.StatusCode, strings.TrimSpace(string(respBody)))
	}
	return nil
}
