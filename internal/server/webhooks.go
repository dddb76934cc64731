package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/FCisco95/organic-app-sub000/internal/config"
	"github.com/FCisco95/organic-app-sub000/internal/domain"
)

const (
	defaultWebhookInterval = 2 * time.Second
	defaultWebhookTimeout  = 5 * time.Second
	defaultWebhookBatch    = 100
	defaultWebhookRetries  = 3
)

// DispatcherConfig configures the webhook forwarder. Hooks are read from the
// org config on every pass.
type DispatcherConfig struct {
	Engines  EngineSource
	Interval time.Duration
	Batch    int
	// Retries bounds redelivery of one event within a pass.
	Retries         uint64
	InitialInterval time.Duration
	Client          *http.Client
	Logger          *slog.Logger
}

// WebhookDispatcher forwards committed audit events to the configured
// webhooks. Each hook has its own cursor; a hook that fails stays on the
// failed event and retries on the next pass. Cursors start at the newest
// event when a hook is first seen, so history is not replayed.
type WebhookDispatcher struct {
	cfg     DispatcherConfig
	mu      sync.Mutex
	cursors map[string]int64
}

func NewWebhookDispatcher(cfg DispatcherConfig) *WebhookDispatcher {
	if cfg.Interval <= 0 {
		cfg.Interval = defaultWebhookInterval
	}
	if cfg.Batch <= 0 {
		cfg.Batch = defaultWebhookBatch
	}
	if cfg.Retries == 0 {
		cfg.Retries = defaultWebhookRetries
	}
	if cfg.Client == nil {
		cfg.Client = &http.Client{Timeout: defaultWebhookTimeout}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &WebhookDispatcher{cfg: cfg, cursors: make(map[string]int64)}
}

func (d *WebhookDispatcher) Run(ctx context.Context) error {
	ticker := time.NewTicker(d.cfg.Interval)
	defer ticker.Stop()
	for {
		if err := d.DispatchOnce(ctx); err != nil && ctx.Err() == nil {
			d.cfg.Logger.Error("webhook pass failed", "err", err)
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// DispatchOnce delivers pending events to every active hook.
func (d *WebhookDispatcher) DispatchOnce(ctx context.Context) error {
	e, err := d.cfg.Engines(ctx)
	if err != nil {
		return err
	}
	if e.Config == nil {
		return nil
	}
	for _, hook := range e.Config.Webhooks {
		if !hook.Active() {
			continue
		}
		cursor, err := d.cursorFor(ctx, hook, e.Events.LatestID)
		if err != nil {
			return fmt.Errorf("init cursor for %s: %w", hook.URL, err)
		}
		evts, err := e.Events.After(ctx, cursor, d.cfg.Batch)
		if err != nil {
			return fmt.Errorf("fetch events: %w", err)
		}
		filter := newEventFilter(hook.Events)
		for _, evt := range evts {
			if filter.match(evt.Type) {
				if err := d.deliver(ctx, e.Config.Org.ID, hook, evt); err != nil {
					d.cfg.Logger.Warn("webhook delivery failed", "url", hook.URL, "event_id", evt.ID, "err", err)
					break
				}
			}
			d.setCursor(hook, evt.ID)
		}
	}
	return nil
}

func hookKey(hook config.WebhookConfig) string {
	return hook.URL + "\x00" + strings.Join(hook.Events, ",")
}

func (d *WebhookDispatcher) cursorFor(ctx context.Context, hook config.WebhookConfig, latest func(context.Context) (int64, error)) (int64, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	key := hookKey(hook)
	if cur, ok := d.cursors[key]; ok {
		return cur, nil
	}
	cur, err := latest(ctx)
	if err != nil {
		return 0, err
	}
	d.cursors[key] = cur
	return cur, nil
}

func (d *WebhookDispatcher) setCursor(hook config.WebhookConfig, id int64) {
	d.mu.Lock()
	d.cursors[hookKey(hook)] = id
	d.mu.Unlock()
}

type webhookEvent struct {
	ID         int64           `json:"id"`
	Type       string          `json:"type"`
	OrgID      string          `json:"org_id"`
	EntityKind string          `json:"entity_kind"`
	EntityID   string          `json:"entity_id,omitempty"`
	ActorID    string          `json:"actor_id"`
	TS         time.Time       `json:"ts"`
	Payload    json.RawMessage `json:"payload"`
}

func (d *WebhookDispatcher) deliver(ctx context.Context, orgID string, hook config.WebhookConfig, evt domain.Event) error {
	payload := json.RawMessage("{}")
	if evt.Payload != "" && json.Valid([]byte(evt.Payload)) {
		payload = json.RawMessage(evt.Payload)
	}
	data, err := json.Marshal(webhookEvent{
		ID:         evt.ID,
		Type:       evt.Type,
		OrgID:      orgID,
		EntityKind: evt.EntityKind,
		EntityID:   evt.EntityID,
		ActorID:    evt.ActorID,
		TS:         evt.TS,
		Payload:    payload,
	})
	if err != nil {
		return err
	}
	timeout := d.cfg.Client.Timeout
	if hook.TimeoutSeconds > 0 {
		timeout = time.Duration(hook.TimeoutSeconds) * time.Second
	}
	bo := backoff.NewExponentialBackOff()
	if d.cfg.InitialInterval > 0 {
		bo.InitialInterval = d.cfg.InitialInterval
	}
	return backoff.Retry(func() error {
		err := d.post(ctx, timeout, orgID, hook, evt, data)
		if err != nil && ctx.Err() != nil {
			return backoff.Permanent(ctx.Err())
		}
		return err
	}, backoff.WithContext(backoff.WithMaxRetries(bo, d.cfg.Retries), ctx))
}

func (d *WebhookDispatcher) post(ctx context.Context, timeout time.Duration, orgID string, hook config.WebhookConfig, evt domain.Event, data []byte) error {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, hook.URL, bytes.NewReader(data))
	if err != nil {
		return backoff.Permanent(err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Organic-Event", evt.Type)
	req.Header.Set("X-Organic-Delivery", strconv.FormatInt(evt.ID, 10))
	req.Header.Set("X-Organic-Org", orgID)
	if strings.TrimSpace(hook.Secret) != "" {
		req.Header.Set("X-Organic-Secret", hook.Secret)
	}
	res, err := d.cfg.Client.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
		err := fmt.Errorf("status %d: %s", res.StatusCode, strings.TrimSpace(string(body)))
		if res.StatusCode >= 400 && res.StatusCode < 500 && res.StatusCode != http.StatusTooManyRequests {
			return backoff.Permanent(err)
		}
		return err
	}
	return nil
}

type eventFilter struct {
	all bool
	set map[string]struct{}
}

func newEventFilter(types []string) eventFilter {
	set := make(map[string]struct{}, len(types))
	for _, t := range types {
		if t = strings.TrimSpace(t); t != "" {
			set[t] = struct{}{}
		}
	}
	if len(set) == 0 {
		return eventFilter{all: true}
	}
	return eventFilter{set: set}
}

func (f eventFilter) match(evtType string) bool {
	if f.all {
		return true
	}
	_, ok := f.set[evtType]
	return ok
}
