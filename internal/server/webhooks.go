package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"

	"quarterplan/internal/config"
	"quarterplan/internal/domain"
	"quarterplan/internal/engine"
	"quarterplan/internal/logging"
)

const (
	defaultWebhookInterval = 2 * time.Second
	defaultWebhookTimeout  = 5 * time.Second
	defaultWebhookBatch    = 100
	webhookRetryInitial    = 200 * time.Millisecond
)

// WebhookDispatcher forwards tenant events to the webhooks each tenant
// config declares. Cursors start at the latest event so a restart never
// replays history.
type WebhookDispatcher struct {
	engine  engine.Engine
	logger  *slog.Logger
	client  *http.Client
	mu      sync.Mutex
	cursors map[string]int64
}

// NewWebhookDispatcher builds a dispatcher; logger may be nil.
func NewWebhookDispatcher(e engine.Engine, logger *slog.Logger) *WebhookDispatcher {
	return &WebhookDispatcher{
		engine:  e,
		logger:  logging.OrDefault(logger).With("component", "webhooks"),
		client:  &http.Client{Timeout: defaultWebhookTimeout},
		cursors: make(map[string]int64),
	}
}

// StartWebhookDispatcher polls for new events every interval until ctx is
// cancelled.
func StartWebhookDispatcher(ctx context.Context, e engine.Engine, interval time.Duration, logger *slog.Logger) *WebhookDispatcher {
	d := NewWebhookDispatcher(e, logger)
	if interval <= 0 {
		interval = defaultWebhookInterval
	}
	go d.run(ctx, interval)
	return d
}

func (d *WebhookDispatcher) run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		d.DispatchOnce(ctx)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// DispatchOnce delivers pending events for every tenant once.
func (d *WebhookDispatcher) DispatchOnce(ctx context.Context) {
	tenants, err := d.engine.ListTenants(ctx)
	if err != nil {
		d.logger.Error("list tenants failed", "error", err)
		return
	}
	for _, t := range tenants {
		cfg, err := d.engine.TenantConfig(ctx, t.ID)
		if err != nil {
			d.logger.Error("load tenant config failed", "tenant", t.ID, "error", err)
			continue
		}
		for i, hook := range cfg.Webhooks {
			if hook.Enabled != nil && !*hook.Enabled {
				continue
			}
			if strings.TrimSpace(hook.URL) == "" {
				continue
			}
			d.dispatchWebhook(ctx, t.ID, i, hook)
		}
	}
}

func (d *WebhookDispatcher) dispatchWebhook(ctx context.Context, tenantID string, idx int, hook config.WebhookConfig) {
	key := fmt.Sprintf("%s#%d", tenantID, idx)
	cursor := d.cursorFor(ctx, key, tenantID)
	events, err := d.engine.Repo.EventsAfter(ctx, defaultWebhookBatch, cursor, tenantID)
	if err != nil {
		d.logger.Error("fetch events failed", "tenant", tenantID, "error", err)
		return
	}
	filter := newEventFilter(hook.Events)
	for _, evt := range events {
		if !filter.match(evt.Type) {
			d.setCursor(key, evt.ID)
			continue
		}
		if err := d.deliver(ctx, tenantID, hook, evt); err != nil {
			d.logger.Warn("webhook delivery failed", "tenant", tenantID, "url", hook.URL, "event_id", evt.ID, "error", err)
			return
		}
		d.setCursor(key, evt.ID)
	}
}

func (d *WebhookDispatcher) cursorFor(ctx context.Context, key, tenantID string) int64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	if cur, ok := d.cursors[key]; ok {
		return cur
	}
	cur, err := d.engine.Repo.LatestEventID(ctx, tenantID)
	if err != nil {
		d.logger.Error("init cursor failed", "tenant", tenantID, "error", err)
		cur = 0
	}
	d.cursors[key] = cur
	return cur
}

func (d *WebhookDispatcher) setCursor(key string, value int64) {
	d.mu.Lock()
	d.cursors[key] = value
	d.mu.Unlock()
}

type webhookEvent struct {
	ID         int64           `json:"id"`
	Type       string          `json:"type"`
	TenantID   string          `json:"tenant_id"`
	EntityKind string          `json:"entity_kind"`
	EntityID   string          `json:"entity_id,omitempty"`
	ActorID    string          `json:"actor_id"`
	TS         string          `json:"ts"`
	Payload    json.RawMessage `json:"payload"`
	PayloadRaw string          `json:"payload_raw,omitempty"`
}

// deliver posts evt, retrying 5xx and transport failures up to
// hook.MaxRetries times. Other 4xx answers are not retried.
func (d *WebhookDispatcher) deliver(ctx context.Context, tenantID string, hook config.WebhookConfig, evt domain.Event) error {
	payload := json.RawMessage("{}")
	var raw string
	if evt.Payload != "" {
		if json.Valid([]byte(evt.Payload)) {
			payload = json.RawMessage(evt.Payload)
		} else {
			raw = evt.Payload
		}
	}
	data, err := json.Marshal(webhookEvent{
		ID:         evt.ID,
		Type:       evt.Type,
		TenantID:   tenantID,
		EntityKind: evt.EntityKind,
		EntityID:   evt.EntityID,
		ActorID:    evt.ActorID,
		TS:         evt.TS,
		Payload:    payload,
		PayloadRaw: raw,
	})
	if err != nil {
		return err
	}
	client := d.client
	if hook.TimeoutSeconds > 0 {
		client = &http.Client{Timeout: time.Duration(hook.TimeoutSeconds) * time.Second}
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = webhookRetryInitial
	var policy backoff.BackOff = backoff.WithMaxRetries(bo, uint64(hook.MaxRetries))
	return backoff.Retry(func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, hook.URL, bytes.NewReader(data))
		if err != nil {
			return backoff.Permanent(err)
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("X-Quarterplan-Event", evt.Type)
		req.Header.Set("X-Quarterplan-Delivery", fmt.Sprintf("%d", evt.ID))
		req.Header.Set("X-Quarterplan-Tenant", tenantID)
		if strings.TrimSpace(hook.Secret) != "" {
			req.Header.Set("X-Quarterplan-Secret", hook.Secret)
		}
		res, err := client.Do(req)
		if err != nil {
			return err
		}
		defer res.Body.Close()
		if res.StatusCode >= 200 && res.StatusCode < 300 {
			return nil
		}
		body, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
		statusErr := fmt.Errorf("status %d: %s", res.StatusCode, strings.TrimSpace(string(body)))
		if res.StatusCode < 500 && res.StatusCode != http.StatusTooManyRequests {
			return backoff.Permanent(statusErr)
		}
		return statusErr
	}, backoff.WithContext(policy, ctx))
}

type eventFilter struct {
	all bool
	set map[string]struct{}
}

func newEventFilter(events []string) eventFilter {
	set := make(map[string]struct{}, len(events))
	for _, evt := range events {
		if key := strings.TrimSpace(evt); key != "" {
			set[key] = struct{}{}
		}
	}
	if len(set) == 0 {
		return eventFilter{all: true}
	}
	return eventFilter{set: set}
}

// match accepts exact types and "prefix.*" wildcards, where prefix may be
// any leading run of dotted segments.
func (f eventFilter) match(evt string) bool {
	if f.all {
		return true
	}
	if _, ok := f.set[evt]; ok {
		return true
	}
	for i := range len(evt) {
		if evt[i] != '.' || i == 0 {
			continue
		}
		if _, ok := f.set[evt[:i]+".*"]; ok {
			return true
		}
	}
	return false
}
